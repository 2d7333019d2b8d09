package quirks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceInfoResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"><SOAP-ENV:Body><tds:GetDeviceInformationResponse><tds:Manufacturer>Reolink</tds:Manufacturer><tt:Extra/></tds:GetDeviceInformationResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`

const motionNotification = `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2" xmlns:tt="http://www.onvif.org/ver10/schema"><SOAP-ENV:Body><tev:PullMessagesResponse xmlns:tev="http://www.onvif.org/ver10/events/wsdl"><wsnt:NotificationMessage><wsnt:Topic Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">tns1:RuleEngine/MyRuleDetector/PeopleDetect</wsnt:Topic><wsnt:Message><tt:Message UtcTime="2024-01-01T00:00:00Z"><tt:Data><tt:SimpleItem Name="IsMotion" Value="false"/></tt:Data></tt:Message></wsnt:Message></wsnt:NotificationMessage></tev:PullMessagesResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`

func resolve(t *testing.T, quirkNames ...string) *Pipeline {
	t.Helper()
	p, err := NewRegistry(nil).Resolve(ModelReolink, quirkNames, nil)
	require.NoError(t, err)
	return p
}

func TestAddMissingNamespacesIsIdempotent(t *testing.T) {
	p := resolve(t, QuirkAddMissingNamespaces)

	once, err := p.Translate(deviceInfoResponse)
	require.NoError(t, err)
	twice, err := p.Translate(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "xmlns:tt="))
	assert.Equal(t, 1, strings.Count(twice, "xmlns:tds="))
	assert.Contains(t, twice, `xmlns:tt="http://www.onvif.org/ver10/schema"`)
	assert.NotContains(t, twice, "xmlns:trt=")
}

func TestQuirksComposeWithoutDuplicates(t *testing.T) {
	p := resolve(t, QuirkFixDeviceInfoNamespace, QuirkAddMissingNamespaces, QuirkFixDeviceInfoNamespace)

	out, err := p.Translate(deviceInfoResponse)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "xmlns:tt="))
	assert.Equal(t, 1, strings.Count(out, "xmlns:tds="))
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
}

func TestNormalizeMediaProfilesOnlyTouchesMediaResponses(t *testing.T) {
	p := resolve(t, QuirkNormalizeMediaProfiles)

	out, err := p.Translate(deviceInfoResponse)
	require.NoError(t, err)
	assert.NotContains(t, out, "xmlns:tt=")

	media := `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"><SOAP-ENV:Body><trt:GetProfilesResponse><trt:Profiles token="main"><tt:Name>main</tt:Name></trt:Profiles></trt:GetProfilesResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`
	out, err = p.Translate(media)
	require.NoError(t, err)
	assert.Contains(t, out, `xmlns:trt="http://www.onvif.org/ver10/media/wsdl"`)
	assert.Contains(t, out, `xmlns:tt="http://www.onvif.org/ver10/schema"`)
}

func TestTranslateSmartEventsRemapsTopic(t *testing.T) {
	p := resolve(t, QuirkTranslateSmartEvents)

	out, err := p.Translate(motionNotification)
	require.NoError(t, err)

	assert.Contains(t, out, ">tns1:RuleEngine/CellMotionDetector/Motion</wsnt:Topic>")
	assert.NotContains(t, out, "PeopleDetect")
	assert.Contains(t, out, `xmlns:tns1="http://www.onvif.org/ver10/topics"`)
	assert.Contains(t, out, `<tt:SimpleItem Name="State" Value="false"/>`)

	again, err := p.Translate(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestTranslateSmartEventsIndependentOfContext(t *testing.T) {
	p := resolve(t, QuirkTranslateSmartEvents)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"text", `<a>tns1:RuleEngine/MyRuleDetector/PeopleDetect</a>`, `>tns1:RuleEngine/CellMotionDetector/Motion</a>`},
		{"attribute", `<a topic="tns1:RuleEngine/MyRuleDetector/VehicleDetect"/>`, `topic="tns1:RuleEngine/CellMotionDetector/Motion"`},
		{"bare identifier", `<a>DogCatDetect</a>`, `<a>Motion</a>`},
		{"longer identifier", `<a>FaceDetection</a>`, `<a>Motion</a>`},
		{"vendor prefix", `<a>reo:RuleEngine/MyRuleDetector/AIDetection</a>`, `>tns1:RuleEngine/CellMotionDetector/Motion</a>`},
		{"unrelated", `<a>tns1:VideoSource/ImageTooDark</a>`, `>tns1:VideoSource/ImageTooDark</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Translate(tt.input)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestTranslateSmartEventsFoldsTopicSet(t *testing.T) {
	p := resolve(t, QuirkTranslateSmartEvents)

	in := `<Envelope xmlns:reo="http://www.reolink.com/topics" xmlns:wstop="http://docs.oasis-open.org/wsn/t-1"><Body><GetEventPropertiesResponse><TopicSet><reo:RuleEngine><MyRuleDetector><PeopleDetect wstop:topic="true"/><VehicleDetect wstop:topic="true"/><Custom wstop:topic="true"/></MyRuleDetector></reo:RuleEngine></TopicSet></GetEventPropertiesResponse></Body></Envelope>`

	out, err := p.Translate(in)
	require.NoError(t, err)

	assert.Contains(t, out, `<tns1:RuleEngine><CellMotionDetector><Motion wstop:topic="true"/></CellMotionDetector><MyRuleDetector><Custom wstop:topic="true"/></MyRuleDetector></tns1:RuleEngine>`)
	assert.Contains(t, out, `xmlns:tns1="http://www.onvif.org/ver10/topics"`)
	assert.NotContains(t, out, "reo")

	again, err := p.Translate(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestTranslateSmartEventsInjectsDefaultState(t *testing.T) {
	p := resolve(t, QuirkTranslateSmartEvents)

	in := `<Envelope xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2" xmlns:tt="http://www.onvif.org/ver10/schema"><wsnt:NotificationMessage><wsnt:Topic>tns1:RuleEngine/CellMotionDetector/Motion</wsnt:Topic><wsnt:Message><tt:Message/></wsnt:Message></wsnt:NotificationMessage></Envelope>`

	out, err := p.Translate(in)
	require.NoError(t, err)
	assert.Contains(t, out, `<tt:Message><tt:Data><tt:SimpleItem Name="State" Value="true"/></tt:Data></tt:Message>`)
}

func TestUnknownModelPassesThrough(t *testing.T) {
	r := NewRegistry(nil)

	out, err := r.Translate(deviceInfoResponse, "hikvision", []string{QuirkAddMissingNamespaces})
	require.NoError(t, err)
	assert.Equal(t, deviceInfoResponse, out)
}

func TestUnknownQuirkIsSkipped(t *testing.T) {
	p, err := NewRegistry(nil).Resolve("Reolink", []string{"bogus", QuirkAddMissingNamespaces}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{QuirkAddMissingNamespaces}, p.Rules())
	assert.Equal(t, "Reolink", p.Model())
}

func TestPipelineRejectsMalformedResponse(t *testing.T) {
	p := resolve(t, QuirkAddMissingNamespaces)
	_, err := p.Translate(`<a><b></a>`)
	assert.Error(t, err)
}

func TestEmptyPipelineDoesNotParse(t *testing.T) {
	out, err := resolve(t).Translate("not xml at all")
	require.NoError(t, err)
	assert.Equal(t, "not xml at all", out)
}

func TestRegistryModels(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("Acme", RuleSet{})
	assert.Equal(t, []string{"acme", "reolink"}, r.Models())
}
