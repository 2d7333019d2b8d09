package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
)

const (
	timeLayout    = "2006-01-02T15:04:05Z"
	topicDialect  = "http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet"
	sourceToken   = "000"
	detectionRule = "MyMotionDetectorRule"
)

// motionNotification renders the NotificationMessage for a motion state change.
func motionNotification(motion bool, at time.Time) (string, error) {
	nm := etree.NewElement("wsnt:NotificationMessage")

	topic := nm.CreateElement("wsnt:Topic")
	topic.CreateAttr("Dialect", topicDialect)
	topic.SetText(quirks.MotionTopic)

	msg := nm.CreateElement("wsnt:Message").CreateElement("tt:Message")
	msg.CreateAttr("UtcTime", at.UTC().Format(timeLayout))
	msg.CreateAttr("PropertyOperation", "Changed")

	source := msg.CreateElement("tt:Source")
	simpleItem(source, "VideoSourceConfigurationToken", sourceToken)
	simpleItem(source, "VideoAnalyticsConfigurationToken", sourceToken)
	simpleItem(source, "Rule", detectionRule)

	data := msg.CreateElement("tt:Data")
	simpleItem(data, "IsMotion", strconv.FormatBool(motion))

	return xmltree.OuterXML(nm)
}

func simpleItem(parent *etree.Element, name, value string) {
	item := parent.CreateElement("tt:SimpleItem")
	item.CreateAttr("Name", name)
	item.CreateAttr("Value", value)
}

// pullMessagesResponse builds the complete PullMessagesResponse envelope.
func pullMessagesResponse(now, termination time.Time, events []Event) string {
	var b strings.Builder
	b.WriteString("<tev:PullMessagesResponse>")
	b.WriteString("<tev:CurrentTime>" + now.UTC().Format(timeLayout) + "</tev:CurrentTime>")
	b.WriteString("<tev:TerminationTime>" + termination.UTC().Format(timeLayout) + "</tev:TerminationTime>")
	for _, ev := range events {
		b.WriteString(ev.XML)
	}
	b.WriteString("</tev:PullMessagesResponse>")
	return soap.Serialize(soap.ResponseNamespaces(), nil, b.String())
}
