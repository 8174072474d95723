package processor

import (
	"log"
	"strings"

	"github.com/beevik/etree"

	"github.com/nci/soapproxy/utils"
)

type CapabilityOptions struct {
	SOAPURL       string
	DeleteNonSOAP bool
	Log           *log.Logger
}

func (o CapabilityOptions) logger() *log.Logger {
	if o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// InjectSOAPCapability advertises the SOAP binding in a WCS 2.0
// capabilities document. Missing sections are logged and skipped; the
// document is never rejected.
func InjectSOAPCapability(root *etree.Element, opts CapabilityOptions) {
	caps := utils.FindNamedOrSelf(root, "Capabilities", true)
	if caps == nil {
		opts.logger().Printf("Capabilities node not found, SOAP binding not advertised")
		return
	}

	svc := utils.FindNamed(caps, "ServiceIdentification", true)
	if svc == nil {
		opts.logger().Printf("ServiceIdentification node not found, SOAP binding not advertised")
		return
	}
	addSOAPProfiles(svc)

	ops := utils.FindNamed(caps, "OperationsMetadata", true)
	if ops == nil {
		opts.logger().Printf("OperationsMetadata node not found, SOAP URLs not added")
		return
	}
	xlink := utils.EnsureNamespace(caps, NSXLink, PrefixXLink)
	for _, op := range utils.ChildrenNamed(ops, "Operation") {
		http := utils.FindNamed(op, "HTTP", true)
		if http == nil {
			continue
		}
		// measured before any endpoint is removed
		step := utils.DefaultIndent
		if endpoints := http.ChildElements(); len(endpoints) > 0 {
			step = utils.IndentStep(endpoints[0])
		}
		if opts.DeleteNonSOAP {
			deleteNonSOAP(http, opts.SOAPURL, xlink)
		}
		addSOAPPost(http, opts.SOAPURL, xlink, step)
	}
}

func hasProfile(profiles []*etree.Element, uri string) bool {
	for _, p := range profiles {
		if strings.TrimSpace(p.Text()) == uri {
			return true
		}
	}
	return false
}

func addSOAPProfiles(svc *etree.Element) {
	profiles := utils.ChildrenNamed(svc, "Profile")

	var last *etree.Element
	if !hasProfile(profiles, SOAPExtensionProfile) {
		ext := etree.NewElement(utils.QName(svc.Space, "Profile"))
		ext.SetText(SOAPExtensionProfile)
		switch {
		case len(profiles) > 0:
			utils.InsertSiblingAfter(profiles[len(profiles)-1], ext)
		case utils.FindNamed(svc, "ServiceTypeVersion", false) != nil:
			versions := utils.ChildrenNamed(svc, "ServiceTypeVersion")
			utils.InsertSiblingAfter(versions[len(versions)-1], ext)
		default:
			utils.AppendChildIndented(svc, ext, utils.DefaultIndent)
		}
		last = ext
	}

	eo := false
	for _, p := range profiles {
		if strings.HasPrefix(strings.TrimSpace(p.Text()), EOProfileRoot) {
			eo = true
			break
		}
	}
	if !eo || hasProfile(profiles, EOSOAPProfile) {
		return
	}
	if last == nil {
		profiles = utils.ChildrenNamed(svc, "Profile")
		last = profiles[len(profiles)-1]
	}
	eoProfile := etree.NewElement(utils.QName(svc.Space, "Profile"))
	eoProfile.SetText(EOSOAPProfile)
	utils.InsertSiblingAfter(last, eoProfile)
}

func postHref(post *etree.Element, xlink string) string {
	return post.SelectAttrValue(utils.QName(xlink, "href"), "")
}

// deleteNonSOAP removes the plain HTTP Get and Post endpoints.
func deleteNonSOAP(http *etree.Element, soapURL, xlink string) {
	for _, name := range []string{"Get", "Post"} {
		for _, el := range utils.ChildrenNamed(http, name) {
			if name == "Post" && postHref(el, xlink) == soapURL {
				continue
			}
			utils.RemoveElement(el)
		}
	}
}

// addSOAPPost adds a Post endpoint pointing at the proxy, with SOAP as
// its only PostEncoding. An existing Post at the same URL gets SOAP
// added to its allowed encodings instead.
func addSOAPPost(http *etree.Element, soapURL, xlink string, step int) {
	for _, post := range utils.ChildrenNamed(http, "Post") {
		if postHref(post, xlink) != soapURL {
			continue
		}
		addPostEncodingSOAP(post, step)
		return
	}

	prefix := http.Space
	post := etree.NewElement(utils.QName(prefix, "Post"))
	post.CreateAttr(utils.QName(xlink, "type"), "simple")
	post.CreateAttr(utils.QName(xlink, "href"), soapURL)
	utils.AppendChildIndented(http, post, step)
	addPostEncodingSOAP(post, step)
}

// addPostEncodingSOAP makes sure post carries
// Constraint[@name="PostEncoding"]/AllowedValues/Value = SOAP.
func addPostEncodingSOAP(post *etree.Element, step int) {
	prefix := post.Space

	var constraint *etree.Element
	for _, c := range utils.ChildrenNamed(post, "Constraint") {
		if c.SelectAttrValue("name", "") == "PostEncoding" {
			constraint = c
			break
		}
	}
	if constraint == nil {
		constraint = etree.NewElement(utils.QName(prefix, "Constraint"))
		constraint.CreateAttr("name", "PostEncoding")
		utils.AppendChildIndented(post, constraint, step)
	}

	allowed := utils.FindNamed(constraint, "AllowedValues", false)
	if allowed == nil {
		allowed = etree.NewElement(utils.QName(prefix, "AllowedValues"))
		utils.AppendChildIndented(constraint, allowed, step)
	}

	for _, v := range utils.ChildrenNamed(allowed, "Value") {
		if strings.TrimSpace(v.Text()) == "SOAP" {
			return
		}
	}
	value := etree.NewElement(utils.QName(prefix, "Value"))
	value.SetText("SOAP")
	utils.AppendChildIndented(allowed, value, step)
}
