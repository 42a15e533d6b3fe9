package peload

import "github.com/mollenos/mollenkit/kernelerr"

// Failure taxonomy from spec §4.2, built on the shared kernelerr.Error
// sum type so loader failures compose with every other subsystem's
// errors.
func errInvalidImage(op, msg string) error {
	return kernelerr.New(op, kernelerr.InvalidParameters, "invalid image: "+msg)
}

func errWrongMachine(op string) error {
	return kernelerr.New(op, kernelerr.NotSupported, "machine type does not match host")
}

func errWrongArch(op string) error {
	return kernelerr.New(op, kernelerr.NotSupported, "architecture does not match host")
}

func errOutOfMemory(op string) error {
	return kernelerr.New(op, kernelerr.OutOfMemory, "out of memory while loading image")
}

func errMappingFailed(op, msg string) error {
	return kernelerr.New(op, kernelerr.DeviceError, "section mapping failed: "+msg)
}

func errMissingSymbol(op, symbol string) error {
	return kernelerr.New(op, kernelerr.DoesNotExist, "missing symbol: "+symbol)
}

func errUnsupportedRelocation(op string, kind uint16) error {
	return kernelerr.New(op, kernelerr.NotSupported, "unsupported relocation type")
}
