package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/utils"
)

const eoMetadataDoc = `<wcseo:EOMetadata xmlns:wcseo="http://www.opengis.net/wcs/wcseo/1.0" xmlns:gml="http://www.opengis.net/gml/3.2">
  <wcseo:lineage>
    <gml:timePosition>2010-01-01T00:00:00Z</gml:timePosition>
  </wcseo:lineage>
  <wcseo:lineage>
    <gml:timePosition>2020-06-01T12:00:00Z</gml:timePosition>
  </wcseo:lineage>
</wcseo:EOMetadata>`

const getCoverageEnvelope = `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:wcs="http://www.opengis.net/wcs/2.0">
  <soap:Body>
    <wcs:GetCoverage service="WCS" version="2.0.1"><wcs:CoverageId>c1</wcs:CoverageId></wcs:GetCoverage>
  </soap:Body>
</soap:Envelope>`

var injected = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func coverageRequest(t *testing.T) (*etree.Document, *etree.Element) {
	doc := parse(t, getCoverageEnvelope)
	body := utils.FindNamed(doc.Root(), "Body", false)
	return doc, body.ChildElements()[0]
}

func lineageTimes(eo *etree.Element) []string {
	var out []string
	for _, l := range utils.ChildrenNamed(eo, "lineage") {
		out = append(out, utils.FindNamed(l, "timePosition", true).Text())
	}
	return out
}

func lineageOpts() LineageOptions {
	return LineageOptions{
		SOAPURL: "http://proxy/soap",
		Now:     func() time.Time { return injected },
		Log:     quietLog,
	}
}

func TestRewriteLineageAppend(t *testing.T) {
	doc := parse(t, eoMetadataDoc)
	envelope, request := coverageRequest(t)
	requested := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	RewriteLineage(doc.Root(), request, requested, lineageOpts())

	times := lineageTimes(doc.Root())
	expected := []string{"2010-01-01T00:00:00Z", "2020-06-01T12:00:00Z", "2022-01-01T00:00:00.000Z"}
	if strings.Join(times, ",") != strings.Join(expected, ",") {
		t.Errorf("lineages failed. Expecting %q, actual: %q", expected, times)
	}

	lineages := utils.ChildrenNamed(doc.Root(), "lineage")
	ref := utils.FindNamed(lineages[2], "referenceGetCoverage", false)
	if ref == nil || ref.Space != "wcseo" {
		t.Errorf("referenceGetCoverage missing")
		return
	}
	svcRef := utils.FindNamed(ref, "ServiceReference", false)
	if svcRef == nil || svcRef.SelectAttrValue("xlink:href", "") != "http://proxy/soap" {
		t.Errorf("ServiceReference failed")
		return
	}
	msg := utils.FindNamed(svcRef, "RequestMessage", false)
	if msg == nil || utils.FindNamed(msg, "GetCoverage", false) != request {
		t.Errorf("request element should be moved into RequestMessage")
	}
	if request.SelectAttrValue("xmlns:wcs", "") != NSWCS20 {
		t.Errorf("request element lost its namespace")
	}
	if len(utils.FindNamed(envelope.Root(), "Body", false).ChildElements()) != 0 {
		t.Errorf("request element should be detached from the envelope")
	}

	if doc.Root().SelectAttrValue("xmlns:ows", "") != NSOWS20 || doc.Root().SelectAttrValue("xmlns:xlink", "") != NSXLink {
		t.Errorf("ows and xlink namespaces not declared")
	}
	if doc.Root().SelectAttrValue("xmlns:gml1", "") != "" {
		t.Errorf("declared gml namespace should be reused")
	}

	out := serialise(t, doc)
	if !strings.Contains(out, "<!--"+lineageComment+"-->") {
		t.Errorf("lineage comment missing:\n%s", out)
	}
	if !strings.Contains(out, "</wcseo:lineage>\n  <wcseo:lineage>\n    <!--") {
		t.Errorf("new lineage not laid out with the document:\n%s", out)
	}
}

func TestRewriteLineageReplace(t *testing.T) {
	doc := parse(t, eoMetadataDoc)
	_, request := coverageRequest(t)
	requested := time.Date(2020, 6, 1, 11, 59, 59, 0, time.UTC)
	RewriteLineage(doc.Root(), request, requested, lineageOpts())

	times := lineageTimes(doc.Root())
	expected := []string{"2010-01-01T00:00:00Z", "2022-01-01T00:00:00.000Z"}
	if strings.Join(times, ",") != strings.Join(expected, ",") {
		t.Errorf("backend lineage should be replaced. Expecting %q, actual: %q", expected, times)
	}
}

func TestRewriteLineageSameSecond(t *testing.T) {
	doc := parse(t, eoMetadataDoc)
	_, request := coverageRequest(t)
	requested := time.Date(2020, 6, 1, 12, 0, 0, 700000000, time.UTC)
	RewriteLineage(doc.Root(), request, requested, lineageOpts())

	times := lineageTimes(doc.Root())
	expected := []string{"2010-01-01T00:00:00Z", "2022-01-01T00:00:00.000Z"}
	if strings.Join(times, ",") != strings.Join(expected, ",") {
		t.Errorf("lineage stamped in the request second should be replaced. Expecting %q, actual: %q", expected, times)
	}
}

func TestRewriteLineageRepeated(t *testing.T) {
	doc := parse(t, eoMetadataDoc)
	requested := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	_, request := coverageRequest(t)
	RewriteLineage(doc.Root(), request, requested, lineageOpts())
	_, request = coverageRequest(t)
	RewriteLineage(doc.Root(), request, requested, lineageOpts())

	if n := len(utils.ChildrenNamed(doc.Root(), "lineage")); n != 3 {
		t.Errorf("repeated rewrite failed. Expecting 3 lineages, actual: %d", n)
	}
	if n := strings.Count(serialise(t, doc), "referenceGetCoverage>"); n != 2 {
		t.Errorf("repeated rewrite failed. Expecting one proxy lineage, actual: %d tags", n)
	}
}

func TestRewriteLineageNoMetadata(t *testing.T) {
	doc := parse(t, `<wcs:CoverageDescriptions xmlns:wcs="http://www.opengis.net/wcs/2.0"/>`)
	before := serialise(t, doc)
	_, request := coverageRequest(t)
	RewriteLineage(doc.Root(), request, time.Now(), lineageOpts())
	if after := serialise(t, doc); after != before {
		t.Errorf("document without EOMetadata changed:\n%s", after)
	}
}

func TestRewriteLineageEmptyMetadata(t *testing.T) {
	doc := parse(t, `<CoverageDescription><EOMetadata/></CoverageDescription>`)
	_, request := coverageRequest(t)
	RewriteLineage(doc.Root(), request, time.Now(), lineageOpts())

	eo := utils.FindNamed(doc.Root(), "EOMetadata", false)
	lineages := utils.ChildrenNamed(eo, "lineage")
	if len(lineages) != 1 {
		t.Errorf("lineage not added to empty EOMetadata")
		return
	}
	tp := utils.FindNamed(lineages[0], "timePosition", false)
	if tp == nil || tp.Space != PrefixGML || tp.Text() != utils.FormatISOTime(injected) {
		t.Errorf("timePosition failed")
	}
}
