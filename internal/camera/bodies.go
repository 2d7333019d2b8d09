package camera

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Camera-side service paths.
const (
	PathDevice = "/onvif/device_service"
	PathMedia  = "/onvif/media_service"
	PathMedia2 = "/onvif/Media2"
	PathEvents = "/onvif/event_service"
)

// InitialTermination is the lifetime requested for new pull-point subscriptions.
const InitialTermination = "PT600S"

func DeviceInformationBody() string {
	return `<tds:GetDeviceInformation xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`
}

func SystemDateAndTimeBody() string {
	return `<tds:GetSystemDateAndTime xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`
}

func CapabilitiesBody() string {
	return `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl"><tds:Category>All</tds:Category></tds:GetCapabilities>`
}

func ServicesBody() string {
	return `<tds:GetServices xmlns:tds="http://www.onvif.org/ver10/device/wsdl"><tds:IncludeCapability>true</tds:IncludeCapability></tds:GetServices>`
}

func ProfilesBody() string {
	return `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`
}

// StreamURIBody requests an RTP-Unicast stream over protocol (RTSP, UDP, HTTP).
func StreamURIBody(profileToken, protocol string) string {
	return fmt.Sprintf(`<trt:GetStreamUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
  <trt:StreamSetup>
    <tt:Stream xmlns:tt="http://www.onvif.org/ver10/schema">RTP-Unicast</tt:Stream>
    <tt:Transport xmlns:tt="http://www.onvif.org/ver10/schema">
      <tt:Protocol>%s</tt:Protocol>
    </tt:Transport>
  </trt:StreamSetup>
  <trt:ProfileToken>%s</trt:ProfileToken>
</trt:GetStreamUri>`, escape(protocol), escape(profileToken))
}

func SnapshotURIBody(profileToken string) string {
	return fmt.Sprintf(`<trt:GetSnapshotUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
  <trt:ProfileToken>%s</trt:ProfileToken>
</trt:GetSnapshotUri>`, escape(profileToken))
}

func EventPropertiesBody() string {
	return `<tev:GetEventProperties xmlns:tev="http://www.onvif.org/ver10/events/wsdl"/>`
}

func CreatePullPointSubscriptionBody() string {
	return `<tev:CreatePullPointSubscription xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
  <tev:InitialTerminationTime>` + InitialTermination + `</tev:InitialTerminationTime>
</tev:CreatePullPointSubscription>`
}

func PullMessagesBody(timeout string, limit int) string {
	return fmt.Sprintf(`<tev:PullMessages xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
  <tev:Timeout>%s</tev:Timeout>
  <tev:MessageLimit>%d</tev:MessageLimit>
</tev:PullMessages>`, escape(timeout), limit)
}

func RenewBody() string {
	return `<wsnt:Renew xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2">
  <wsnt:TerminationTime>` + InitialTermination + `</wsnt:TerminationTime>
</wsnt:Renew>`
}

func UnsubscribeBody() string {
	return `<wsnt:Unsubscribe xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"/>`
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
