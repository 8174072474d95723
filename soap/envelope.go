// Package soap reads SOAP 1.1/1.2 request envelopes and writes
// response envelopes, with MTOM packaging of binary payloads.
package soap

import (
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/utils"
)

const (
	NS11 = "http://schemas.xmlsoap.org/soap/envelope/"
	NS12 = "http://www.w3.org/2003/05/soap-envelope"

	NSXOP   = "http://www.w3.org/2004/08/xop/include"
	NSXMIME = "http://www.w3.org/2005/05/xmlmime"
)

type Version int

const (
	SOAP11 Version = iota
	SOAP12
)

func (v Version) Namespace() string {
	if v == SOAP12 {
		return NS12
	}
	return NS11
}

// ContentType is the media type of a plain envelope of this version.
func (v Version) ContentType() string {
	if v == SOAP12 {
		return "application/soap+xml"
	}
	return "text/xml"
}

// Envelope is a parsed SOAP request.
type Envelope struct {
	Version   Version
	Doc       *etree.Document
	Body      *etree.Element
	Node      *etree.Element
	Operation string
}

// ReadEnvelope parses a SOAP request. MTOM requests are accepted; only
// their root part is read.
func ReadEnvelope(r io.Reader, contentType string) (*Envelope, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil && len(contentType) > 0 {
		return nil, utils.NewError(utils.ErrBadRequest, "invalid Content-Type: "+contentType)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		r, err = rootPart(r, params)
		if err != nil {
			return nil, err
		}
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, utils.WrapError(utils.ErrBadRequest, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, utils.NewError(utils.ErrNoInput, "")
	}
	if root.Tag != "Envelope" {
		return nil, utils.NewError(utils.ErrBadRequest, "root element is not a SOAP Envelope")
	}

	env := &Envelope{Doc: doc, Version: SOAP11}
	if ns, _ := utils.LookupNamespaceURI(root, root.Space); ns == NS12 {
		env.Version = SOAP12
	}

	env.Body = utils.FindNamed(root, "Body", false)
	if env.Body == nil {
		return nil, utils.NewError(utils.ErrBadRequest, "no SOAP Body")
	}
	children := env.Body.ChildElements()
	if len(children) == 0 {
		return env, utils.NewError(utils.ErrNoInput, "")
	}
	env.Node = children[0]
	env.Operation = env.Node.Tag
	return env, nil
}

// rootPart returns the part of a multipart/related request holding
// the envelope: the one named by the start parameter, else the first.
func rootPart(r io.Reader, params map[string]string) (io.Reader, error) {
	boundary := params["boundary"]
	if len(boundary) == 0 {
		return nil, utils.NewError(utils.ErrBadRequest, "multipart request without boundary")
	}
	start := strings.Trim(params["start"], "<>")

	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, utils.NewError(utils.ErrNoInput, "no root part")
		}
		if err != nil {
			return nil, utils.WrapError(utils.ErrBadRequest, err)
		}
		id := strings.Trim(part.Header.Get("Content-ID"), "<>")
		if len(start) == 0 || id == start {
			return part, nil
		}
	}
}
