package processor

import (
	"log"
	"time"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/utils"
)

const lineageComment = " GetCoverage request received through the SOAP proxy "

type LineageOptions struct {
	SOAPURL string
	Now     func() time.Time
	Log     *log.Logger
}

func (o LineageOptions) logger() *log.Logger {
	if o.Log == nil {
		return log.Default()
	}
	return o.Log
}

func (o LineageOptions) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// latestLineage returns the lineage with the latest timePosition. Of
// equal times the last one in document order wins. Lineages without a
// parsable time are ignored.
func latestLineage(eo *etree.Element) (*etree.Element, time.Time) {
	var latest *etree.Element
	var latestTime time.Time
	for _, l := range utils.ChildrenNamed(eo, "lineage") {
		tp := utils.FindNamed(l, "timePosition", true)
		if tp == nil {
			continue
		}
		t, err := utils.ParseISOTime(tp.Text())
		if err != nil {
			continue
		}
		if latest == nil || !t.Before(latestTime) {
			latest, latestTime = l, t
		}
	}
	return latest, latestTime
}

// RewriteLineage records the SOAP GetCoverage request in the EO
// metadata of a coverage description. A lineage the backend added
// while serving this request, i.e. one not older than requested, is
// replaced. Backend timestamps have whole-second resolution, so
// requested is compared at the same resolution. The request element is
// moved into the response.
func RewriteLineage(root, request *etree.Element, requested time.Time, opts LineageOptions) {
	requested = requested.Truncate(time.Second)
	eo := utils.FindNamedOrSelf(root, "EOMetadata", true)
	if eo == nil {
		opts.logger().Printf("EOMetadata node not found, lineage not updated")
		return
	}

	step := utils.DefaultIndent
	latest, latestTime := latestLineage(eo)
	var anchor *etree.Element
	if latest != nil {
		step = utils.IndentStep(latest)
		if !latestTime.Before(requested) {
			lineages := utils.ChildrenNamed(eo, "lineage")
			for _, l := range lineages {
				if l == latest {
					break
				}
				anchor = l
			}
			utils.RemoveElement(latest)
		} else {
			anchor = latest
		}
	}
	if anchor == nil {
		if lineages := utils.ChildrenNamed(eo, "lineage"); len(lineages) > 0 {
			anchor = lineages[len(lineages)-1]
		}
	}

	prefix := eo.Space
	ows := utils.EnsureNamespace(eo, NSOWS20, PrefixOWS)
	xlink := utils.EnsureNamespace(eo, NSXLink, PrefixXLink)
	gml := utils.EnsureNamespace(eo, NSGML32, PrefixGML)

	lineage := etree.NewElement(utils.QName(prefix, "lineage"))
	if anchor != nil {
		utils.InsertSiblingAfter(anchor, lineage)
	} else {
		utils.AppendChildIndented(eo, lineage, step)
	}

	utils.AppendChildIndented(lineage, etree.NewComment(lineageComment), step)

	ref := etree.NewElement(utils.QName(prefix, "referenceGetCoverage"))
	utils.AppendChildIndented(lineage, ref, step)

	svcRef := etree.NewElement(utils.QName(ows, "ServiceReference"))
	svcRef.CreateAttr(utils.QName(xlink, "href"), opts.SOAPURL)
	utils.AppendChildIndented(ref, svcRef, step)

	msg := etree.NewElement(utils.QName(ows, "RequestMessage"))
	utils.AppendChildIndented(svcRef, msg, step)
	if request != nil {
		utils.InheritNamespaces(request)
		if parent := request.Parent(); parent != nil {
			parent.RemoveChild(request)
		}
		utils.AppendChildIndented(msg, request, step)
	}

	tp := etree.NewElement(utils.QName(gml, "timePosition"))
	tp.SetText(utils.FormatISOTime(opts.now()))
	utils.AppendChildIndented(lineage, tp, step)
}
