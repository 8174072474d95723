package soap

import (
	"bytes"
	"encoding/xml"
	"io"
	"log"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/edisonguo/jet"

	"github.com/nci/soapproxy/utils"
)

const (
	FaultTemplate = "SOAP_Fault.tpl"
	FaultReason   = "Soap-to-post service failed"
)

type faultData struct {
	Namespace string
	SOAP12    bool
	Code      string
	Reason    string
	ErrorCode string
	Message   string

	// ErrorResponse is a plain-text error node added for requests
	// that carried no input.
	ErrorResponse string
}

// FaultWriter renders SOAP faults from a jet template.
type FaultWriter struct {
	template *jet.Template
}

// NewFaultWriter loads the fault template from templateDir. Without a
// usable template the faults are built directly.
func NewFaultWriter(templateDir string) *FaultWriter {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		xml.EscapeText(w, b)
	}), filepath.Clean(templateDir), "/")

	t, err := view.GetTemplate("/" + FaultTemplate)
	if err != nil {
		log.Printf("SOAP fault template not loaded: %v", err)
		return &FaultWriter{}
	}
	return &FaultWriter{template: t}
}

func faultCode(version Version, code utils.ErrorCode) string {
	switch {
	case code.IsUserError() && version == SOAP12:
		return "Sender"
	case code.IsUserError():
		return "Client"
	case version == SOAP12:
		return "Receiver"
	}
	return "Server"
}

// Fault renders a fault envelope for err.
func (f *FaultWriter) Fault(version Version, err error) *Message {
	code := utils.CodeOf(err)
	data := faultData{
		Namespace: version.Namespace(),
		SOAP12:    version == SOAP12,
		Code:      faultCode(version, code),
		Reason:    FaultReason,
		ErrorCode: code.String(),
		Message:   code.Message(),
	}
	if code == utils.ErrNoInput {
		data.ErrorResponse = code.Message()
	}

	contentType := version.ContentType() + "; charset=utf-8"
	if f.template != nil {
		var buf bytes.Buffer
		if e := f.template.Execute(&buf, make(jet.VarMap), data); e == nil {
			return &Message{ContentType: contentType, Body: buf.Bytes()}
		} else {
			log.Printf("SOAP fault template error: %v", e)
		}
	}

	out, e := buildFault(data).WriteToBytes()
	if e != nil {
		out = []byte(FaultReason)
	}
	return &Message{ContentType: contentType, Body: out}
}

func buildFault(data faultData) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", data.Namespace)
	fault := env.CreateElement("soapenv:Body").CreateElement("soapenv:Fault")

	var detail *etree.Element
	if data.SOAP12 {
		fault.CreateElement("soapenv:Code").CreateElement("soapenv:Value").SetText("soapenv:" + data.Code)
		text := fault.CreateElement("soapenv:Reason").CreateElement("soapenv:Text")
		text.CreateAttr("xml:lang", "en")
		text.SetText(data.Reason)
		detail = fault.CreateElement("soapenv:Detail")
	} else {
		fault.CreateElement("faultcode").SetText("soapenv:" + data.Code)
		fault.CreateElement("faultstring").SetText(data.Reason)
		detail = fault.CreateElement("detail")
	}
	se := detail.CreateElement("S2PServiceError")
	se.CreateAttr("code", data.ErrorCode)
	se.SetText(data.Message)
	if len(data.ErrorResponse) > 0 {
		detail.AddChild(errorResponse(data.ErrorResponse))
	}
	doc.Indent(2)
	return doc
}

func errorResponse(text string) *etree.Element {
	el := etree.NewElement("errorResponse")
	el.SetText(text)
	return el
}
