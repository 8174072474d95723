package processor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/utils"
)

// maximum number of body bytes logged for unrecognised content
const maxDumpLen = 2048

// Attachment is binary content carried next to the XML payload.
type Attachment struct {
	ContentType string
	ContentID   string
	Data        []byte
}

// Result is the payload of a SOAP response body. Root is never nil.
// When Attachment is set, Root is the element that references it.
type Result struct {
	Root       *etree.Element
	Attachment *Attachment
}

type BuildOptions struct {
	Debug bool
	Log   *log.Logger
}

func (o BuildOptions) logger() *log.Logger {
	if o.Log == nil {
		return log.Default()
	}
	return o.Log
}

var contentIDSeq uint64

func newContentID() string {
	n := atomic.AddUint64(&contentIDSeq, 1)
	return fmt.Sprintf("coverage-%d-%d@soapproxy", time.Now().UnixNano(), n)
}

// BuildResponse turns the raw backend output into a SOAP payload. The
// stream is closed before returning.
func BuildResponse(stream io.ReadCloser, opts BuildOptions) (*Result, error) {
	defer stream.Close()

	r := bufio.NewReader(stream)
	headers, err := utils.ReadHeaders(r, utils.MaxHeaderBlockLen)
	if err != nil {
		return nil, err
	}
	if !headers.HasContentType() {
		return nil, utils.NewError(utils.ErrContentHeaders, "no Content-type header")
	}
	contentType := headers.ContentType()

	switch utils.ClassifyContentType(contentType) {
	case utils.ContentXML, utils.ContentSEXML:
		return loadXML(r)

	case utils.ContentMixed:
		data, err := utils.LoadBinary(r)
		if err != nil {
			return nil, utils.WrapError(utils.ErrParseMixedOutput, err)
		}
		if data == nil {
			return nil, utils.NewError(utils.ErrParseMixedOutput, "empty multipart response")
		}
		if opts.Debug {
			logParts(opts.logger(), data, contentType)
		}
		return newCoverage(data, CoverageContentType), nil

	case utils.ContentTIFF:
		data, err := utils.LoadBinary(r)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, utils.NewError(utils.ErrDataLoad, "empty image response")
		}
		return newCoverage(data, contentType), nil
	}

	opts.logger().Printf("Unrecognised Content-type from backend: '%s'", contentType)
	if opts.Debug {
		dumpContent(opts.logger(), r, contentType)
	}
	return nil, utils.NewError(utils.ErrContentType, contentType)
}

func loadXML(r io.Reader) (*Result, error) {
	br, err := utils.NewBoundaryReader(r, "", false)
	if err != nil {
		return nil, utils.WrapError(utils.ErrInternal, err)
	}
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(br); err != nil {
		return nil, utils.WrapError(utils.ErrParseBackendOutput, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, utils.NewError(utils.ErrEmptyXML, "")
	}
	return &Result{Root: root}, nil
}

// newCoverage wraps binary content in a wcs:Coverage element.
func newCoverage(data []byte, contentType string) *Result {
	el := etree.NewElement(utils.QName(PrefixWCS, "Coverage"))
	el.CreateAttr("xmlns:"+PrefixWCS, NSWCS20)
	return &Result{
		Root: el,
		Attachment: &Attachment{
			ContentType: contentType,
			ContentID:   newContentID(),
			Data:        data,
		},
	}
}

func dumpContent(logger *log.Logger, r io.Reader, contentType string) {
	if !utils.IsTextType(contentType) {
		logger.Printf("Not dumping non-text content of type '%s'", contentType)
		return
	}
	buf, err := io.ReadAll(io.LimitReader(r, maxDumpLen))
	if err != nil && len(buf) == 0 {
		logger.Printf("Failed to read content for dump: %v", err)
		return
	}
	logger.Printf("Content dump (%d bytes):\n%s", len(buf), buf)
}

func logParts(logger *log.Logger, data []byte, contentType string) {
	n := 0
	err := utils.ReadParts(bytes.NewReader(data), contentType, func(h *utils.HeaderValues, content []byte) error {
		n++
		logger.Printf("multipart part %d: type='%s' id='%s' encoding='%s' size=%d",
			n, h.ContentType(), h.ID(), h.TransferEncoding(), len(content))
		return nil
	})
	if err != nil {
		logger.Printf("multipart scan stopped after %d parts: %v", n, err)
	}
}
