package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Envelope attributes of the root element.
const (
	attrVersion   = "version"
	attrType      = "type"
	attrPeerID    = "peer_id"
	attrRequestID = "request_id"
	attrTimeout   = "timeout"
	attrAction    = "action"
	attrCommand   = "command"
	attrResult    = "result"
	attrReason    = "reason"

	typeRequest = "request"
	typeReply   = "reply"
)

// DecodeError is returned when incoming bytes are not a valid protocol document.
type DecodeError struct {
	// RequestID is the request id found on the root element before decoding failed, if any.
	RequestID string
	Line      int
	Column    int
	Reason    string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Bad xml: line %d, column %d: %s", e.Line, e.Column, e.Reason)
	}
	return "Bad xml: " + e.Reason
}

// Result returns the result code reported to the peer.
func (e *DecodeError) Result() ResultCode {
	return ResultBadXML
}

// EncodeRequest encodes request document.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.Action == "" {
		return nil, errors.New("request has no action")
	}

	el := &Element{
		Name:     ElementRequest,
		Attrs:    []Attr{{Name: attrAction, Value: req.Action}},
		Children: req.Body,
	}
	for _, a := range req.Attrs {
		if a.Name == attrAction || a.Name == attrCommand {
			continue
		}
		el.Attrs = append(el.Attrs, a)
	}

	root := envelope(req.Version, typeRequest, req.PeerID, req.ID, req.Timeout)
	root.Children = append([]*Element{el}, req.Siblings...)
	return encode(root)
}

// EncodeReply encodes reply document.
func EncodeReply(reply *Reply) ([]byte, error) {
	if reply.Result == ResultInvalid || int(reply.Result) >= len(resultNames) {
		return nil, errors.Errorf("reply has invalid result code %d", reply.Result)
	}

	name := ElementReply
	if reply.Error {
		name = ElementError
	}
	el := &Element{
		Name:     name,
		Text:     reply.Message,
		Children: reply.Body,
	}
	if reply.Action != "" {
		el.Attrs = append(el.Attrs, Attr{Name: attrAction, Value: reply.Action})
	}
	el.Attrs = append(el.Attrs, Attr{Name: attrResult, Value: reply.Result.String()})

	root := envelope(reply.Version, typeReply, reply.PeerID, reply.ID, "")
	root.Children = []*Element{el}
	return encode(root)
}

// Decode decodes incoming document. Errors are always of type *DecodeError.
func Decode(data []byte) (msg *Message, retErr error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}

	defer func() {
		if retErr != nil {
			var decodeErr *DecodeError
			if errors.As(retErr, &decodeErr) && decodeErr.RequestID == "" {
				decodeErr.RequestID, _ = root.Attr(attrRequestID)
			}
		}
	}()

	if root.Name != ElementRoot {
		return nil, &DecodeError{Reason: fmt.Sprintf("root element must be %q, got %q", ElementRoot, root.Name)}
	}

	var reqEl, replyEl *Element
	var siblings []*Element
	for _, ch := range root.Children {
		switch ch.Name {
		case ElementRequest:
			if reqEl != nil {
				return nil, &DecodeError{Reason: "more than one request element"}
			}
			reqEl = ch
		case ElementReply, ElementError:
			if replyEl != nil {
				return nil, &DecodeError{Reason: "more than one reply element"}
			}
			replyEl = ch
		default:
			siblings = append(siblings, ch)
		}
	}

	envType, _ := root.Attr(attrType)
	switch {
	case reqEl != nil && replyEl != nil:
		return nil, &DecodeError{Reason: "document contains both request and reply"}
	case reqEl == nil && replyEl == nil:
		return nil, &DecodeError{Reason: "document contains neither request nor reply"}
	case reqEl != nil:
		if envType != "" && envType != typeRequest {
			return nil, &DecodeError{Reason: fmt.Sprintf("envelope type %q does not match request", envType)}
		}
		req, err := decodeRequest(root, reqEl, siblings)
		if err != nil {
			return nil, err
		}
		return &Message{Request: req}, nil
	default:
		if envType != "" && envType != typeReply {
			return nil, &DecodeError{Reason: fmt.Sprintf("envelope type %q does not match reply", envType)}
		}
		reply, err := decodeReply(root, replyEl)
		if err != nil {
			return nil, err
		}
		return &Message{Reply: reply}, nil
	}
}

func decodeRequest(root, el *Element, siblings []*Element) (*Request, error) {
	req := &Request{
		Body:     el.Children,
		Siblings: siblings,
	}
	req.Version, _ = root.Attr(attrVersion)
	req.PeerID, _ = root.Attr(attrPeerID)
	req.ID, _ = root.Attr(attrRequestID)
	req.Timeout, _ = root.Attr(attrTimeout)

	var hasAction bool
	for _, a := range el.Attrs {
		switch a.Name {
		case attrAction:
			req.Action = a.Value
			hasAction = true
		case attrCommand:
			if !hasAction {
				req.Action = a.Value
			}
		default:
			req.Attrs = append(req.Attrs, a)
		}
	}
	if req.Action == "" {
		return nil, &DecodeError{Reason: "request element has no action"}
	}
	return req, nil
}

func decodeReply(root, el *Element) (*Reply, error) {
	reply := &Reply{
		Message: el.Text,
		Body:    el.Children,
		Error:   el.Name == ElementError,
	}
	reply.Version, _ = root.Attr(attrVersion)
	reply.PeerID, _ = root.Attr(attrPeerID)
	reply.ID, _ = root.Attr(attrRequestID)

	if action, ok := el.Attr(attrAction); ok {
		reply.Action = action
	} else if command, ok := el.Attr(attrCommand); ok {
		reply.Action = command
	}

	result, ok := el.Attr(attrResult)
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("%s element has no result", el.Name)}
	}
	reply.Result = ParseResultCode(result)
	if reply.Result == ResultInvalid {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown result code %q", result)}
	}

	if reply.Message == "" {
		reply.Message, _ = el.Attr(attrReason)
	}
	return reply, nil
}

func envelope(version, msgType, peerID, requestID, timeout string) *Element {
	root := NewElement(ElementRoot)
	if version != "" {
		root.SetAttr(attrVersion, version)
	}
	root.SetAttr(attrType, msgType)
	if peerID != "" {
		root.SetAttr(attrPeerID, peerID)
	}
	if requestID != "" {
		root.SetAttr(attrRequestID, requestID)
	}
	if timeout != "" {
		root.SetAttr(attrTimeout, timeout)
	}
	return root
}

func encode(root *Element) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := xml.NewEncoder(buf)
	if err := encodeElement(enc, root); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func encodeElement(enc *xml.Encoder, el *Element) error {
	if el.Name == "" {
		return errors.New("element has no name")
	}

	start := xml.StartElement{Name: xml.Name{Local: el.Name}}
	for _, a := range el.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return errors.Wrapf(err, "encoding element %q", el.Name)
	}
	if el.Text != "" {
		if err := enc.EncodeToken(xml.CharData(el.Text)); err != nil {
			return errors.Wrapf(err, "encoding text of element %q", el.Name)
		}
	}
	for _, ch := range el.Children {
		if err := encodeElement(enc, ch); err != nil {
			return err
		}
	}
	return errors.WithStack(enc.EncodeToken(start.End()))
}

func parseTree(data []byte) (root *Element, retErr error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	defer func() {
		if r := recover(); r != nil {
			root = nil
			retErr = &DecodeError{Reason: fmt.Sprintf("decoder failure: %v", r)}
		}
	}()

	fail := func(reason string) error {
		line, column := dec.InputPos()
		e := &DecodeError{Line: line, Column: column, Reason: reason}
		if root != nil {
			e.RequestID, _ = root.Attr(attrRequestID)
		}
		return e
	}

	var stack []*Element
	var closed bool
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, fail(syntaxErr.Msg)
			}
			return nil, fail(err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil || closed {
					return nil, fail("document has more than one root element")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			el := stack[len(stack)-1]
			el.Text = strings.TrimSpace(el.Text)
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				closed = true
			}
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, fail("text outside of root element")
				}
				continue
			}
			stack[len(stack)-1].Text += string(t)
		case xml.Directive:
			return nil, fail("directives are not allowed")
		}
	}

	if root == nil {
		return nil, &DecodeError{Reason: "document is empty"}
	}
	if len(stack) > 0 {
		return nil, fail(fmt.Sprintf("element %q is not closed", stack[len(stack)-1].Name))
	}
	return root, nil
}
