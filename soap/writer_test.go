package soap

import (
	"bytes"
	"encoding/base64"
	"io/ioutil"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/processor"
	"github.com/nci/soapproxy/utils"
)

func payload(t *testing.T, xml string) *etree.Element {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	return doc.Root()
}

func coverage(data string) *processor.Result {
	el := etree.NewElement("wcs:Coverage")
	el.CreateAttr("xmlns:wcs", processor.NSWCS20)
	return &processor.Result{
		Root: el,
		Attachment: &processor.Attachment{
			ContentType: "image/tiff",
			ContentID:   "coverage-1@soapproxy",
			Data:        []byte(data),
		},
	}
}

func bodyChild(t *testing.T, data []byte) *etree.Element {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		t.Fatalf("response envelope is not well formed: %v", err)
	}
	body := utils.FindNamed(doc.Root(), "Body", false)
	if body == nil || len(body.ChildElements()) != 1 {
		t.Fatalf("response envelope has no payload: %s", data)
	}
	return body.ChildElements()[0]
}

func TestEncodeXML(t *testing.T) {
	outer := payload(t, `<wrap xmlns:wcs="http://www.opengis.net/wcs/2.0"><wcs:CoverageDescriptions/></wrap>`)
	res := &processor.Result{Root: outer.ChildElements()[0]}

	msg, err := Encode(SOAP12, res, true)
	if err != nil {
		t.Errorf("Encode failed: %v", err)
		return
	}
	if msg.ContentType != "application/soap+xml; charset=utf-8" {
		t.Errorf("content type failed, actual: %s", msg.ContentType)
	}
	if !bytes.Contains(msg.Body, []byte(`<soapenv:Envelope xmlns:soapenv="`+NS12+`">`)) {
		t.Errorf("SOAP 1.2 envelope failed: %s", msg.Body)
	}
	child := bodyChild(t, msg.Body)
	if child.Tag != "CoverageDescriptions" || child.SelectAttrValue("xmlns:wcs", "") != processor.NSWCS20 {
		t.Errorf("payload should keep its namespace, actual: %s", msg.Body)
	}
}

func TestEncodeInline(t *testing.T) {
	data := "II*\x00\xff\xfe"
	msg, err := Encode(SOAP11, coverage(data), false)
	if err != nil {
		t.Errorf("Encode failed: %v", err)
		return
	}
	if !strings.HasPrefix(msg.ContentType, "text/xml") {
		t.Errorf("content type failed, actual: %s", msg.ContentType)
	}
	child := bodyChild(t, msg.Body)
	decoded, err := base64.StdEncoding.DecodeString(child.Text())
	if err != nil || string(decoded) != data {
		t.Errorf("inline coverage failed, actual: %q %v", decoded, err)
	}
	if child.SelectAttrValue("xmime:contentType", "") != "image/tiff" {
		t.Errorf("xmime:contentType failed")
	}
}

func TestEncodeMTOM(t *testing.T) {
	data := "II*\x00\r\n--not-a-boundary\r\n\x00\x01"
	msg, err := Encode(SOAP12, coverage(data), true)
	if err != nil {
		t.Errorf("Encode failed: %v", err)
		return
	}

	mediaType, params, err := mime.ParseMediaType(msg.ContentType)
	if err != nil || mediaType != "multipart/related" {
		t.Errorf("MTOM content type failed: %s", msg.ContentType)
		return
	}
	if params["type"] != "application/xop+xml" || params["start"] != "<"+rootContentID+">" || params["start-info"] != "application/soap+xml" {
		t.Errorf("MTOM parameters failed, actual: %v", params)
	}

	mr := multipart.NewReader(bytes.NewReader(msg.Body), params["boundary"])
	root, err := mr.NextPart()
	if err != nil {
		t.Errorf("root part failed: %v", err)
		return
	}
	if root.Header.Get("Content-ID") != "<"+rootContentID+">" || !strings.HasPrefix(root.Header.Get("Content-Type"), "application/xop+xml") {
		t.Errorf("root part headers failed, actual: %v", root.Header)
	}
	envBytes, _ := ioutil.ReadAll(root)
	inc := utils.FindNamed(bodyChild(t, envBytes), "Include", false)
	if inc == nil || inc.SelectAttrValue("href", "") != "cid:coverage-1@soapproxy" {
		t.Errorf("xop:Include failed: %s", envBytes)
	}

	att, err := mr.NextPart()
	if err != nil {
		t.Errorf("attachment part failed: %v", err)
		return
	}
	if att.Header.Get("Content-ID") != "<coverage-1@soapproxy>" || att.Header.Get("Content-Type") != "image/tiff" {
		t.Errorf("attachment headers failed, actual: %v", att.Header)
	}
	attData, _ := ioutil.ReadAll(att)
	if string(attData) != data {
		t.Errorf("attachment failed. Expecting %q, actual: %q", data, attData)
	}
}
