package resources

import "errors"

var (
	ErrNothingToLoad = errors.New("nothing to do, no texel data")
	ErrEmptyExtent   = errors.New("texture extent is zero")
	ErrShortLayer    = errors.New("texel layer is shorter than width*height*4")
	ErrLayerMismatch = errors.New("texture layers differ in size")
	ErrTooLarge      = errors.New("texture exceeds device limits")
	ErrNoLoader      = errors.New("no loader thread available")
	ErrFaceNotFound  = errors.New("font face does not exist")
	ErrOutOfRange    = errors.New("layer or mip level out of range")
)
