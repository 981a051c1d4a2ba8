package codec

import "github.com/meigma/crate/internal/cratetype"

func builtinFormats() []*FormatSpec {
	return []*FormatSpec{
		{
			Format: cratetype.FormatCrate,
			Methods: []cratetype.Method{
				cratetype.MethodCopy,
				cratetype.MethodDeflate,
				cratetype.MethodLZMA,
				cratetype.MethodLZMA2,
				cratetype.MethodZstd,
				cratetype.MethodLZ4,
				cratetype.MethodS2,
			},
			Default:          cratetype.MethodLZMA2,
			Encryption:       true,
			HeaderEncryption: true,
			MultiEntry:       true,
			Update:           true,
		},
		{
			Format: cratetype.FormatZip,
			Methods: []cratetype.Method{
				cratetype.MethodCopy,
				cratetype.MethodDeflate,
				cratetype.MethodZstd,
			},
			Default:    cratetype.MethodDeflate,
			Encryption: true,
			MultiEntry: true,
			Update:     true,
		},
		{
			Format:     cratetype.FormatTar,
			Methods:    []cratetype.Method{cratetype.MethodCopy},
			Default:    cratetype.MethodCopy,
			Fixed:      true,
			MultiEntry: true,
			Update:     true,
		},
		{
			Format:  cratetype.FormatGzip,
			Methods: []cratetype.Method{cratetype.MethodDeflate},
			Default: cratetype.MethodDeflate,
			Fixed:   true,
		},
	}
}
