package wire

import "errors"

var ErrUnknownSubmessage = errors.New("wire: unrecognized submessage tag")
