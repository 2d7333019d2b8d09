package soap

import "fmt"

// FaultCode is the top-level SOAP 1.2 fault code.
type FaultCode string

const (
	FaultSender   FaultCode = "Sender"
	FaultReceiver FaultCode = "Receiver"
)

// ONVIF fault subcodes used by the gateway.
const (
	SubcodeActionNotSupported = "ter:ActionNotSupported"
	SubcodeInvalidArgs        = "ter:InvalidArgs"
	SubcodeNotFound           = "ter:InvalidArgVal"
	SubcodeUpstream           = "ter:Action"
)

// Fault returns a complete SOAP 1.2 fault envelope.
func Fault(code FaultCode, subcode, reason string) string {
	body := fmt.Sprintf(`<SOAP-ENV:Fault>`+
		`<SOAP-ENV:Code><SOAP-ENV:Value>SOAP-ENV:%s</SOAP-ENV:Value>`+
		`<SOAP-ENV:Subcode><SOAP-ENV:Value>%s</SOAP-ENV:Value></SOAP-ENV:Subcode>`+
		`</SOAP-ENV:Code>`+
		`<SOAP-ENV:Reason><SOAP-ENV:Text xml:lang="en">%s</SOAP-ENV:Text></SOAP-ENV:Reason>`+
		`</SOAP-ENV:Fault>`,
		code, subcode, escapeAttr(reason))
	return Serialize(ResponseNamespaces(), nil, body)
}
