// Package service implements the ONVIF operations the gateway answers on a
// camera's behalf: it picks the camera request for each inbound action, sends
// it, and repairs the camera's answer before it goes back to the client.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/anthonyacole/onvif-proxy/pkg/fmtt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrNotImplemented means the action is not handled for that service.
var ErrNotImplemented = errors.New("action not implemented")

// Service names one ONVIF service endpoint of a camera.
type Service string

const (
	Device Service = "device_service"
	Media  Service = "media_service"
	Media2 Service = "Media2"
	Events Service = "event_service"
)

// Services lists every endpoint served under /onvif/:cameraId/.
func Services() []Service { return []Service{Device, Media, Media2, Events} }

const (
	defaultProfileToken = "Profile_1"
	defaultProtocol     = "RTSP"
	defaultPullTimeout  = "PT1S"
	defaultMessageLimit = 10
)

// MaxPullTimeout caps the wait a client may request in PullMessages. The HTTP
// server's write timeout has to stay above it.
const MaxPullTimeout = time.Minute

// Gateway dispatches parsed requests to camera operations.
type Gateway struct {
	log     *zap.Logger
	events  *events.Manager
	baseURL string
}

// NewGateway returns a gateway that advertises baseURL to clients in
// rewritten service and subscription addresses.
func NewGateway(mgr *events.Manager, baseURL string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		log:     log.Named("gateway"),
		events:  mgr,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (g *Gateway) BaseURL() string { return g.baseURL }

// Handle answers one request on svc for cam. An envelope without an action is
// a probe and gets an empty response envelope.
func (g *Gateway) Handle(ctx context.Context, svc Service, cam *registry.Entry, env *soap.Envelope) (string, error) {
	log := g.log.With(
		zap.String("camera_id", cam.Endpoint.ID),
		zap.String("service", string(svc)),
		zap.String("action", env.Body.Action),
	)
	if log.Core().Enabled(zapcore.DebugLevel) {
		log.Debug("request envelope", zap.String("body", fmtt.Dump(env.Body)))
	}

	if env.Body.Action == "" {
		log.Debug("empty action, answering probe")
		return soap.Serialize(soap.ResponseNamespaces(), nil, ""), nil
	}

	var (
		out string
		err error
	)
	switch svc {
	case Device:
		out, err = g.device(ctx, cam, env)
	case Media:
		out, err = g.media(ctx, cam, env)
	case Media2:
		out, err = g.media2(ctx, cam, env)
	case Events:
		out, err = g.eventService(ctx, cam, env)
	default:
		err = fmt.Errorf("%w: unknown service %q", ErrNotImplemented, svc)
	}
	if err != nil {
		g.logFailure(log, err)
		return "", err
	}
	return soap.EnsureDeclaration(out), nil
}

// HandleSubscription answers PullMessages, Renew and Unsubscribe addressed to
// a subscription reference issued by CreatePullPointSubscription.
func (g *Gateway) HandleSubscription(ctx context.Context, cam *registry.Entry, ref string, env *soap.Envelope) (string, error) {
	log := g.log.With(
		zap.String("camera_id", cam.Endpoint.ID),
		zap.String("ref", ref),
		zap.String("action", env.Body.Action),
	)

	out, err := g.subscription(ctx, cam, ref, env)
	if err != nil {
		g.logFailure(log, err)
		return "", err
	}
	return soap.EnsureDeclaration(out), nil
}

func (g *Gateway) device(ctx context.Context, cam *registry.Entry, env *soap.Envelope) (string, error) {
	switch env.Body.Action {
	case "GetDeviceInformation":
		return g.call(ctx, cam, camera.PathDevice, camera.DeviceInformationBody())
	case "GetSystemDateAndTime":
		return g.call(ctx, cam, camera.PathDevice, camera.SystemDateAndTimeBody())
	case "GetCapabilities":
		return g.call(ctx, cam, camera.PathDevice, camera.CapabilitiesBody(), quirks.ServiceURLs(g.baseURL, cam.Endpoint.ID))
	case "GetServices":
		return g.call(ctx, cam, camera.PathDevice, camera.ServicesBody(), quirks.ServiceURLs(g.baseURL, cam.Endpoint.ID))
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotImplemented, env.Body.Action, Device)
}

func (g *Gateway) media(ctx context.Context, cam *registry.Entry, env *soap.Envelope) (string, error) {
	if env.Body.Namespace == soap.NamespaceMedia2 {
		return g.media2(ctx, cam, env)
	}

	loopback := quirks.LoopbackHosts(cam.Endpoint.Address)
	switch env.Body.Action {
	case "GetProfiles":
		return g.call(ctx, cam, camera.PathMedia, camera.ProfilesBody())
	case "GetStreamUri":
		token := valueOr(env, "ProfileToken", defaultProfileToken)
		protocol := valueOr(env, "Protocol", defaultProtocol)
		return g.call(ctx, cam, camera.PathMedia, camera.StreamURIBody(token, protocol), loopback)
	case "GetSnapshotUri":
		token := valueOr(env, "ProfileToken", defaultProfileToken)
		return g.call(ctx, cam, camera.PathMedia, camera.SnapshotURIBody(token), loopback)
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotImplemented, env.Body.Action, Media)
}

// media2 forwards the client's body unchanged; the camera's Media2 service is
// usable as is apart from loopback stream hosts.
func (g *Gateway) media2(ctx context.Context, cam *registry.Entry, env *soap.Envelope) (string, error) {
	raw, err := cam.Client.Forward(ctx, camera.PathMedia2, env.Namespaces, env.Body.RawXML)
	if err != nil {
		return "", err
	}
	return g.translate(cam, raw, quirks.LoopbackHosts(cam.Endpoint.Address)), nil
}

func (g *Gateway) eventService(ctx context.Context, cam *registry.Entry, env *soap.Envelope) (string, error) {
	switch env.Body.Action {
	case "GetEventProperties":
		return g.call(ctx, cam, camera.PathEvents, camera.EventPropertiesBody())

	case "CreatePullPointSubscription":
		ref, raw, err := g.events.Create(ctx, cam.Client, g.baseURL)
		if err != nil {
			return "", err
		}
		g.log.Info("pull point created",
			zap.String("camera_id", cam.Endpoint.ID),
			zap.String("ref", ref),
		)
		return g.translate(cam, raw), nil

	case "PullMessages", "Renew", "Unsubscribe":
		// Clients that ignore the returned Address send these to the event
		// service with the subscription URL in wsa:To.
		ref := refFromAddress(env)
		out, err := g.subscription(ctx, cam, ref, env)
		if err != nil {
			return "", err
		}
		return g.translate(cam, out), nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotImplemented, env.Body.Action, Events)
}

func (g *Gateway) subscription(ctx context.Context, cam *registry.Entry, ref string, env *soap.Envelope) (string, error) {
	if info, ok := g.events.Lookup(ref); ok && info.CameraID != cam.Endpoint.ID {
		return "", fmt.Errorf("%w: %s belongs to camera %s", events.ErrNotFound, ref, info.CameraID)
	}

	switch env.Body.Action {
	case "PullMessages":
		timeout := min(events.ParseTimeout(valueOr(env, "Timeout", defaultPullTimeout)), MaxPullTimeout)
		limit := defaultMessageLimit
		if s, ok := env.Value("MessageLimit"); ok {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}
		return g.events.Pull(ctx, ref, timeout, limit)
	case "Renew":
		return g.events.Renew(ctx, cam.Client, ref)
	case "Unsubscribe":
		return g.events.Unsubscribe(ctx, cam.Client, ref)
	}
	return "", fmt.Errorf("%w: %s on subscription", ErrNotImplemented, env.Body.Action)
}

// call sends body to the camera and runs the camera's pipeline, then extra,
// over the answer.
func (g *Gateway) call(ctx context.Context, cam *registry.Entry, path, body string, extra ...quirks.Rule) (string, error) {
	raw, err := cam.Client.SendSOAP(ctx, path, body)
	if err != nil {
		return "", err
	}
	return g.translate(cam, raw, extra...), nil
}

// translate falls back to the camera's own response when it cannot be repaired.
func (g *Gateway) translate(cam *registry.Entry, raw string, extra ...quirks.Rule) string {
	out, err := cam.Pipeline.Translate(raw, extra...)
	if err != nil {
		g.log.Error("translation failed, returning camera response as is",
			zap.String("camera_id", cam.Endpoint.ID),
			zap.String("model", cam.Pipeline.Model()),
			zap.Error(err),
		)
		return raw
	}
	return out
}

func (g *Gateway) logFailure(log *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrNotImplemented):
		log.Warn("action not implemented")
	case errors.Is(err, events.ErrNotFound):
		log.Warn("unknown subscription")
	default:
		log.Error("camera operation failed", zap.Error(err))
		if log.Core().Enabled(zapcore.DebugLevel) {
			log.Debug("error chain", zap.String("chain", fmtt.ErrChain(err)))
		}
	}
}

func valueOr(env *soap.Envelope, local, def string) string {
	if v, ok := env.Value(local); ok && v != "" {
		return v
	}
	return def
}

// refFromAddress extracts the reference from a wsa:To of the form
// .../subscription/{ref}.
func refFromAddress(env *soap.Envelope) string {
	to, ok := env.HeaderValue("To")
	if !ok {
		return ""
	}
	const marker = "/subscription/"
	i := strings.LastIndex(to, marker)
	if i < 0 {
		return ""
	}
	ref := to[i+len(marker):]
	if j := strings.IndexAny(ref, "/?#"); j >= 0 {
		ref = ref[:j]
	}
	return ref
}
