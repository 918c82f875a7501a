package wire

import (
	"fmt"
)

// Element names used by the protocol.
const (
	ElementRoot       = "zmap"
	ElementRequest    = "request"
	ElementReply      = "reply"
	ElementError      = "error"
	ElementPeer       = "peer"
	ElementAlign      = "align"
	ElementBlock      = "block"
	ElementFeatureSet = "featureset"
	ElementFeature    = "feature"
	ElementSubfeature = "subfeature"
	ElementColumn     = "column"
	ElementSequence   = "sequence"
	ElementView       = "view"
)

// DefaultVersion is the protocol version written by this implementation.
const DefaultVersion = "3.0"

// Attr is a single XML attribute.
type Attr struct {
	Name  string
	Value string
}

// Element is a generic XML element. Unknown elements survive decoding in this form.
type Element struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// NewElement creates element with attributes given as name/value pairs.
func NewElement(name string, attrs ...string) *Element {
	el := &Element{Name: name}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.Attrs = append(el.Attrs, Attr{Name: attrs[i], Value: attrs[i+1]})
	}
	return el
}

// Attr returns value of the attribute.
func (e *Element) Attr(name string) (string, bool) {
	return lookupAttr(e.Attrs, name)
}

// SetAttr sets or replaces the attribute.
func (e *Element) SetAttr(name, value string) {
	e.Attrs = setAttr(e.Attrs, name, value)
}

// Add appends children and returns the element.
func (e *Element) Add(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// Find returns the first element with the name, searching depth-first and including e itself.
func (e *Element) Find(name string) *Element {
	if e.Name == name {
		return e
	}
	return findElement(e.Children, name)
}

// Clone returns deep copy of the element.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := &Element{Name: e.Name, Text: e.Text}
	if e.Attrs != nil {
		c.Attrs = append([]Attr{}, e.Attrs...)
	}
	if e.Children != nil {
		c.Children = make([]*Element, 0, len(e.Children))
		for _, ch := range e.Children {
			c.Children = append(c.Children, ch.Clone())
		}
	}
	return c
}

// PeerIdentity identifies a protocol peer.
type PeerIdentity struct {
	AppID    string
	UniqueID string
}

// IsZero tells if identity is unset.
func (p PeerIdentity) IsZero() bool {
	return p == PeerIdentity{}
}

// Element renders identity as a peer element.
func (p PeerIdentity) Element() *Element {
	return NewElement(ElementPeer, "app_id", p.AppID, "unique_id", p.UniqueID)
}

func (p PeerIdentity) String() string {
	return fmt.Sprintf("%s (%s)", p.AppID, p.UniqueID)
}

// Request is a command sent to the peer.
type Request struct {
	ID      string
	PeerID  string
	Version string
	Timeout string
	Action  string

	// Attrs holds attributes of the request element other than the action.
	Attrs []Attr

	// Body holds elements nested inside the request element.
	Body []*Element

	// Siblings holds elements placed next to the request element.
	Siblings []*Element
}

// NewRequest creates request for the action.
func NewRequest(action string, attrs ...string) *Request {
	req := &Request{Action: action}
	for i := 0; i+1 < len(attrs); i += 2 {
		req.Attrs = append(req.Attrs, Attr{Name: attrs[i], Value: attrs[i+1]})
	}
	return req
}

// Attr returns value of the request attribute.
func (r *Request) Attr(name string) (string, bool) {
	return lookupAttr(r.Attrs, name)
}

// SetAttr sets or replaces the request attribute.
func (r *Request) SetAttr(name, value string) {
	r.Attrs = setAttr(r.Attrs, name, value)
}

// Add appends elements to the request body.
func (r *Request) Add(elements ...*Element) *Request {
	r.Body = append(r.Body, elements...)
	return r
}

// Elements returns body elements followed by siblings.
func (r *Request) Elements() []*Element {
	elements := make([]*Element, 0, len(r.Body)+len(r.Siblings))
	elements = append(elements, r.Body...)
	return append(elements, r.Siblings...)
}

// Element finds the first element with the name in body or siblings.
func (r *Request) Element(name string) *Element {
	if el := findElement(r.Body, name); el != nil {
		return el
	}
	return findElement(r.Siblings, name)
}

// Reply is the answer to a request.
type Reply struct {
	ID      string
	PeerID  string
	Version string
	Action  string
	Result  ResultCode
	Message string
	Body    []*Element

	// Error marks replies sent as an error element.
	Error bool
}

// NewReply creates reply with formatted message.
func NewReply(result ResultCode, format string, args ...any) *Reply {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Reply{
		Result:  result,
		Message: msg,
	}
}

// Add appends elements to the reply body.
func (r *Reply) Add(elements ...*Element) *Reply {
	r.Body = append(r.Body, elements...)
	return r
}

// OK tells if the reply reports success.
func (r *Reply) OK() bool {
	return r.Result == ResultOK
}

// Element finds the first element with the name in the reply body.
func (r *Reply) Element(name string) *Element {
	return findElement(r.Body, name)
}

// Message is a decoded document holding either a request or a reply.
type Message struct {
	Request *Request
	Reply   *Reply
}

func lookupAttr(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func setAttr(attrs []Attr, name, value string) []Attr {
	for i, a := range attrs {
		if a.Name == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, Attr{Name: name, Value: value})
}

func findElement(elements []*Element, name string) *Element {
	for _, el := range elements {
		if found := el.Find(name); found != nil {
			return found
		}
	}
	return nil
}
