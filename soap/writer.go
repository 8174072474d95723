package soap

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/processor"
	"github.com/nci/soapproxy/utils"
)

const rootContentID = "root.message@soapproxy"

// Message is an encoded SOAP response ready to be sent.
type Message struct {
	ContentType string
	Body        []byte
}

// Encode wraps the payload of res in an envelope. An attachment is sent
// as an MTOM part when mtom is set, otherwise inlined as base64.
func Encode(version Version, res *processor.Result, mtom bool) (*Message, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", version.Namespace())
	body := env.CreateElement("soapenv:Body")

	utils.InheritNamespaces(res.Root)
	body.AddChild(res.Root)

	att := res.Attachment
	if att == nil {
		return encodeDoc(doc, version.ContentType()+"; charset=utf-8")
	}

	if !mtom {
		res.Root.CreateAttr("xmlns:xmime", NSXMIME)
		res.Root.CreateAttr("xmime:contentType", att.ContentType)
		res.Root.SetText(base64.StdEncoding.EncodeToString(att.Data))
		return encodeDoc(doc, version.ContentType()+"; charset=utf-8")
	}

	inc := res.Root.CreateElement("xop:Include")
	inc.CreateAttr("xmlns:xop", NSXOP)
	inc.CreateAttr("href", "cid:"+att.ContentID)

	envBytes, err := doc.WriteToBytes()
	if err != nil {
		return nil, utils.WrapError(utils.ErrInternal, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	rootHeader := textproto.MIMEHeader{}
	rootHeader.Set("Content-Type", fmt.Sprintf(`application/xop+xml; charset=UTF-8; type="%s"`, version.ContentType()))
	rootHeader.Set("Content-Transfer-Encoding", "binary")
	rootHeader.Set("Content-ID", "<"+rootContentID+">")
	if err := writePart(mw, rootHeader, envBytes); err != nil {
		return nil, err
	}

	attHeader := textproto.MIMEHeader{}
	attHeader.Set("Content-Type", att.ContentType)
	attHeader.Set("Content-Transfer-Encoding", "binary")
	attHeader.Set("Content-ID", "<"+att.ContentID+">")
	if err := writePart(mw, attHeader, att.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, utils.WrapError(utils.ErrInternal, err)
	}

	contentType := fmt.Sprintf(`multipart/related; type="application/xop+xml"; boundary="%s"; start="<%s>"; start-info="%s"`,
		mw.Boundary(), rootContentID, version.ContentType())
	return &Message{ContentType: contentType, Body: buf.Bytes()}, nil
}

func writePart(mw *multipart.Writer, header textproto.MIMEHeader, data []byte) error {
	w, err := mw.CreatePart(header)
	if err != nil {
		return utils.WrapError(utils.ErrInternal, err)
	}
	if _, err := w.Write(data); err != nil {
		return utils.WrapError(utils.ErrInternal, err)
	}
	return nil
}

func encodeDoc(doc *etree.Document, contentType string) (*Message, error) {
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, utils.WrapError(utils.ErrInternal, err)
	}
	return &Message{ContentType: contentType, Body: out}, nil
}

// WriteTo sends the message body.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Body)
	return int64(n), err
}
