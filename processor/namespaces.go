package processor

const (
	NSWCS20 = "http://www.opengis.net/wcs/2.0"
	NSOWS20 = "http://www.opengis.net/ows/2.0"
	NSGML32 = "http://www.opengis.net/gml/3.2"
	NSXLink = "http://www.w3.org/1999/xlink"
	NSWCSEO = "http://www.opengis.net/wcs/wcseo/1.0"
	NSProxy = "http://www.eoxserver.org/soap_proxy/wcsProxy"

	PrefixWCS   = "wcs"
	PrefixOWS   = "ows"
	PrefixGML   = "gml"
	PrefixXLink = "xlink"
	PrefixProxy = "sopr"

	SOAPExtensionProfile = "http://www.opengis.net/spec/WCS_protocol-binding_soap/1.0"
	EOProfileRoot        = "http://www.opengis.net/spec/WCS_application-profile_earth-observation"
	EOSOAPProfile        = "http://www.opengis.net/spec/WCS_application-profile_earth-observation/1.0/conf/eowcs_soap"

	CoverageContentType = "application/coverage"
)
