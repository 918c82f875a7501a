package wire

// ResultCode is the outcome carried by the result attribute of a reply.
type ResultCode int

// Result codes. String forms are visible on the wire and must not change.
const (
	ResultInvalid ResultCode = iota
	ResultOK
	ResultFailed
	ResultBadRequest
	ResultBadXML
	ResultAborted
	ResultUnknownCommand
	ResultUnsupported
	ResultUnavailable
	ResultInternal
	ResultConflict
	ResultNoContent
	ResultPreconditionFailed
)

var resultNames = [...]string{
	ResultInvalid:            "invalid",
	ResultOK:                 "ok",
	ResultFailed:             "failed",
	ResultBadRequest:         "bad_request",
	ResultBadXML:             "bad_xml",
	ResultAborted:            "aborted",
	ResultUnknownCommand:     "unknown_command",
	ResultUnsupported:        "unsupported",
	ResultUnavailable:        "unavailable",
	ResultInternal:           "internal",
	ResultConflict:           "conflict",
	ResultNoContent:          "no_content",
	ResultPreconditionFailed: "precondition_failed",
}

func (c ResultCode) String() string {
	if c < 0 || int(c) >= len(resultNames) {
		return resultNames[ResultInvalid]
	}
	return resultNames[c]
}

// ParseResultCode returns the code with the given wire name or ResultInvalid.
func ParseResultCode(name string) ResultCode {
	for i := ResultOK; int(i) < len(resultNames); i++ {
		if resultNames[i] == name {
			return i
		}
	}
	return ResultInvalid
}
