package quirks

import (
	"regexp"
	"strings"

	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
)

const ModelReolink = "reolink"

// Quirk names understood by the reolink rule set.
const (
	QuirkFixDeviceInfoNamespace = "fix_device_info_namespace"
	QuirkNormalizeMediaProfiles = "normalize_media_profiles"
	QuirkTranslateSmartEvents   = "translate_smart_events"
	QuirkAddMissingNamespaces   = "add_missing_namespaces"
)

// MotionTopic is the standard topic smart-detection events are folded into.
const MotionTopic = "tns1:RuleEngine/CellMotionDetector/Motion"

const vendorPrefix = "reo"

type binding struct{ prefix, uri string }

var onvifNamespaces = []binding{
	{"tds", soap.NamespaceDevice},
	{"trt", soap.NamespaceMedia},
	{"tev", soap.NamespaceEvents},
	{"tt", soap.NamespaceSchema},
	{"tns1", soap.NamespaceTopics},
	{"wsnt", soap.NamespaceNotify},
}

// Vendor detection identifiers, all reported to clients as plain motion.
var smartDetections = []string{
	"PeopleDetect", "PersonDetection",
	"VehicleDetect", "VehicleDetection",
	"DogCatDetect", "PetDetection",
	"FaceDetect", "FaceDetection",
	"SmartDetection", "AIDetection",
}

var (
	smartDetectionSet = func() map[string]bool {
		m := make(map[string]bool, len(smartDetections))
		for _, s := range smartDetections {
			m[s] = true
		}
		return m
	}()

	smartTopicRe   = regexp.MustCompile(`(MyRuleDetector/)?\b(` + strings.Join(smartDetections, "|") + `)\b`)
	vendorPrefixRe = regexp.MustCompile(`(^|[^A-Za-z0-9_.-])` + vendorPrefix + `:`)
)

// ReolinkRules is the rule set for Reolink cameras.
func ReolinkRules() RuleSet {
	return RuleSet{
		QuirkFixDeviceInfoNamespace: {Name: QuirkFixDeviceInfoNamespace, Apply: fixDeviceInfoNamespace},
		QuirkNormalizeMediaProfiles: {Name: QuirkNormalizeMediaProfiles, Apply: normalizeMediaProfiles},
		QuirkTranslateSmartEvents:   {Name: QuirkTranslateSmartEvents, Apply: translateSmartEvents},
		QuirkAddMissingNamespaces:   {Name: QuirkAddMissingNamespaces, Apply: addMissingNamespaces},
	}
}

func fixDeviceInfoNamespace(doc *etree.Document) error {
	declareUsed(doc.Root(), binding{"tds", soap.NamespaceDevice}, binding{"tt", soap.NamespaceSchema})
	return nil
}

func addMissingNamespaces(doc *etree.Document) error {
	declareUsed(doc.Root(), onvifNamespaces...)
	return nil
}

func normalizeMediaProfiles(doc *etree.Document) error {
	root := doc.Root()
	if !isMediaResponse(root) {
		return nil
	}
	declareUsed(root, binding{"trt", soap.NamespaceMedia}, binding{"tt", soap.NamespaceSchema})
	return nil
}

func translateSmartEvents(doc *etree.Document) error {
	root := doc.Root()

	remap := func(s string) string {
		s = smartTopicRe.ReplaceAllStringFunc(s, func(m string) string {
			if strings.HasPrefix(m, "MyRuleDetector/") {
				return "CellMotionDetector/Motion"
			}
			return "Motion"
		})
		return vendorPrefixRe.ReplaceAllString(s, "${1}tns1:")
	}
	xmltree.MapText(root, remap)
	xmltree.MapAttrValues(root, remap)

	renameVendorPrefix(root)
	remapTopicElements(root)
	injectMotionState(root)

	declareUsed(root, binding{"tns1", soap.NamespaceTopics}, binding{"tt", soap.NamespaceSchema})
	return nil
}

// declareUsed declares each binding on the root when the document uses its
// prefix (element, attribute or QName value) without declaring it.
func declareUsed(root *etree.Element, bindings ...binding) {
	if root == nil {
		return
	}
	for _, b := range bindings {
		if xmltree.UsesPrefix(root, b.prefix) || xmltree.MentionsPrefix(root, b.prefix) {
			xmltree.Declare(root, b.prefix, b.uri)
		}
	}
}

// isMediaResponse reports whether the first element of the SOAP body belongs
// to the media service.
func isMediaResponse(root *etree.Element) bool {
	if root == nil {
		return false
	}
	scope := root
	for _, child := range root.ChildElements() {
		if child.Tag == "Body" {
			scope = child
			break
		}
	}
	elems := scope.ChildElements()
	if len(elems) == 0 {
		return false
	}
	first := elems[0]
	return first.Space == "trt" || first.NamespaceURI() == soap.NamespaceMedia
}

// renameVendorPrefix moves reo-prefixed names to tns1 and rebinds the
// declaration to the standard topics namespace.
func renameVendorPrefix(root *etree.Element) {
	tns1Declared := xmltree.Declares(root, "tns1")

	xmltree.Walk(root, func(e *etree.Element) {
		if e.Space == vendorPrefix {
			e.Space = "tns1"
		}
		for i := 0; i < len(e.Attr); i++ {
			a := &e.Attr[i]
			switch {
			case a.Space == vendorPrefix:
				a.Space = "tns1"
			case a.Space == "xmlns" && a.Key == vendorPrefix:
				if tns1Declared {
					e.RemoveAttr("xmlns:" + vendorPrefix)
					i--
					continue
				}
				a.Key = "tns1"
				a.Value = soap.NamespaceTopics
				tns1Declared = true
			}
		}
	})
}

// remapTopicElements folds MyRuleDetector/<smart detection> nodes of a topic
// set into a single CellMotionDetector/Motion node under the same parent.
func remapTopicElements(root *etree.Element) {
	var detectors []*etree.Element
	xmltree.Walk(root, func(e *etree.Element) {
		if e.Tag == "MyRuleDetector" && e.Parent() != nil {
			detectors = append(detectors, e)
		}
	})

	for _, det := range detectors {
		var mapped []*etree.Element
		for _, c := range det.ChildElements() {
			if smartDetectionSet[c.Tag] {
				mapped = append(mapped, c)
			}
		}
		if len(mapped) == 0 {
			continue
		}

		parent := det.Parent()
		cell := childByTag(parent, "CellMotionDetector")
		if cell == nil {
			cell = etree.NewElement(qualify(det.Space, "CellMotionDetector"))
			parent.InsertChildAt(det.Index(), cell)
		}
		motion := childByTag(cell, "Motion")

		for _, m := range mapped {
			det.RemoveChild(m)
			if motion != nil {
				continue
			}
			m.Tag = "Motion"
			cell.AddChild(m)
			motion = m
		}

		if len(det.ChildElements()) == 0 {
			parent.RemoveChild(det)
		}
	}
}

// injectMotionState adds a State SimpleItem to the Data of every motion
// notification that lacks one. The value follows IsMotion when present.
func injectMotionState(root *etree.Element) {
	var notifications []*etree.Element
	xmltree.Walk(root, func(e *etree.Element) {
		if e.Tag == "NotificationMessage" {
			notifications = append(notifications, e)
		}
	})

	for _, nm := range notifications {
		topic := xmltree.Find(nm, "Topic")
		if topic == nil || !strings.Contains(xmltree.Text(topic), "Motion") {
			continue
		}

		data := xmltree.Find(nm, "Data")
		if data == nil {
			inner := innerMessage(nm)
			if inner == nil {
				continue
			}
			data = inner.CreateElement(qualify(inner.Space, "Data"))
		}

		if _, ok := simpleItem(data, "State"); ok {
			continue
		}
		value := "true"
		if v, ok := simpleItem(data, "IsMotion"); ok {
			value = v
		}

		prefix := data.Space
		for _, c := range data.ChildElements() {
			if c.Tag == "SimpleItem" {
				prefix = c.Space
				break
			}
		}
		item := data.CreateElement(qualify(prefix, "SimpleItem"))
		item.CreateAttr("Name", "State")
		item.CreateAttr("Value", value)
	}
}

// innerMessage returns the tt:Message nested in a wsnt:Message.
func innerMessage(nm *etree.Element) *etree.Element {
	var found *etree.Element
	xmltree.Walk(nm, func(e *etree.Element) {
		if found == nil && e.Tag == "Message" && e.Parent() != nil && e.Parent().Tag == "Message" {
			found = e
		}
	})
	return found
}

func simpleItem(data *etree.Element, name string) (string, bool) {
	for _, c := range data.ChildElements() {
		if c.Tag == "SimpleItem" && c.SelectAttrValue("Name", "") == name {
			return c.SelectAttrValue("Value", ""), true
		}
	}
	return "", false
}

func childByTag(parent *etree.Element, tag string) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
