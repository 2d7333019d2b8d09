package soap

const (
	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"

	NamespaceDevice     = "http://www.onvif.org/ver10/device/wsdl"
	NamespaceMedia      = "http://www.onvif.org/ver10/media/wsdl"
	NamespaceMedia2     = "http://www.onvif.org/ver20/media/wsdl"
	NamespaceEvents     = "http://www.onvif.org/ver10/events/wsdl"
	NamespaceSchema     = "http://www.onvif.org/ver10/schema"
	NamespaceTopics     = "http://www.onvif.org/ver10/topics"
	NamespaceError      = "http://www.onvif.org/ver10/error"
	NamespaceNotify     = "http://docs.oasis-open.org/wsn/b-2"
	NamespaceAddressing = "http://www.w3.org/2005/08/addressing"
	NamespaceSecext     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceUtility    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
)

// Namespace is one xmlns declaration. An empty Prefix is the default namespace.
type Namespace struct {
	Prefix string `json:"prefix"`
	URI    string `json:"uri"`
}

// RequestNamespaces is the declaration set put on envelopes sent to cameras.
func RequestNamespaces() []Namespace {
	return []Namespace{
		{"SOAP-ENV", NamespaceSOAP12},
		{"tds", NamespaceDevice},
		{"trt", NamespaceMedia},
		{"tev", NamespaceEvents},
		{"tt", NamespaceSchema},
		{"wsse", NamespaceSecext},
		{"wsu", NamespaceUtility},
	}
}

// ResponseNamespaces is the declaration set put on envelopes the gateway
// synthesizes itself (faults, PullMessages responses).
func ResponseNamespaces() []Namespace {
	return []Namespace{
		{"SOAP-ENV", NamespaceSOAP12},
		{"wsa5", NamespaceAddressing},
		{"wsnt", NamespaceNotify},
		{"tev", NamespaceEvents},
		{"tt", NamespaceSchema},
		{"tns1", NamespaceTopics},
		{"ter", NamespaceError},
	}
}

// MergeNamespaces appends the declarations of extra whose prefix base does not
// already bind.
func MergeNamespaces(base, extra []Namespace) []Namespace {
	out := append([]Namespace(nil), base...)
	seen := make(map[string]bool, len(base)+len(extra))
	for _, ns := range base {
		seen[ns.Prefix] = true
	}
	for _, ns := range extra {
		if seen[ns.Prefix] {
			continue
		}
		seen[ns.Prefix] = true
		out = append(out, ns)
	}
	return out
}
