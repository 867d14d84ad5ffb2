package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// fakeDevTools speaks enough of the DevTools protocol over a websocket for
// chromedp to attach tabs, navigate and capture screenshots.
type fakeDevTools struct {
	server *httptest.Server

	// status is the main document status of every navigation.
	status int
	// idle controls whether a navigation's loader ever reaches networkIdle.
	idle       bool
	errorText  string
	screenshot []byte

	mu          sync.Mutex
	targets     int
	created     []string
	navigations int
	headers     []map[string]string
	navigated   []string
	closed      []string
}

type devToolsMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    interface{}     `json:"result,omitempty"`
}

func newFakeDevTools(t *testing.T, configure func(f *fakeDevTools)) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{status: http.StatusOK, idle: true, screenshot: []byte("abc")}
	if configure != nil {
		configure(f)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDevTools) URL() string {
	return "ws://" + f.server.Listener.Addr().String() + "/devtools/browser/fake"
}

func (f *fakeDevTools) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/json/version" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "HeadlessChrome/fake",
			"webSocketDebuggerUrl": f.URL(),
		})
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()
	f.serveConn(conn)
}

func (f *fakeDevTools) serveConn(conn net.Conn) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var msg devToolsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		for _, out := range f.handle(msg) {
			payload, err := json.Marshal(out)
			if err != nil {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
				return
			}
		}
	}
}

func reply(msg devToolsMessage, result interface{}) devToolsMessage {
	if result == nil {
		result = map[string]interface{}{}
	}
	return devToolsMessage{ID: msg.ID, SessionID: msg.SessionID, Result: result}
}

func event(sessionID, method string, params interface{}) devToolsMessage {
	raw, _ := json.Marshal(params)
	return devToolsMessage{SessionID: sessionID, Method: method, Params: raw}
}

func devToolsDocumentResponse(sessionID, loaderID, url string, status int) devToolsMessage {
	return event(sessionID, "Network.responseReceived", map[string]interface{}{
		"requestId":    loaderID,
		"loaderId":     loaderID,
		"timestamp":    1,
		"type":         "Document",
		"frameId":      "F-" + sessionID,
		"hasExtraInfo": false,
		"response": map[string]interface{}{
			"url":               url,
			"status":            status,
			"statusText":        http.StatusText(status),
			"headers":           map[string]string{},
			"mimeType":          "text/html",
			"connectionReused":  false,
			"connectionId":      0,
			"encodedDataLength": 0,
			"securityState":     "secure",
		},
	})
}

func devToolsLifecycle(sessionID, loaderID, name string) devToolsMessage {
	return event(sessionID, "Page.lifecycleEvent", map[string]interface{}{
		"frameId":   "F-" + sessionID,
		"loaderId":  loaderID,
		"name":      name,
		"timestamp": 1,
	})
}

// handle answers one command. Messages are sent in the returned order.
func (f *fakeDevTools) handle(msg devToolsMessage) []devToolsMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var params map[string]interface{}
	_ = json.Unmarshal(msg.Params, &params)

	switch msg.Method {
	case "Target.createTarget":
		f.targets++
		targetID := fmt.Sprintf("T%d", f.targets)
		f.created = append(f.created, targetID)
		return []devToolsMessage{reply(msg, map[string]string{"targetId": targetID})}

	case "Target.setDiscoverTargets":
		if msg.SessionID != "" {
			return []devToolsMessage{reply(msg, nil)}
		}
		// A browser-level subscription is told about the initial blank tab.
		return []devToolsMessage{
			reply(msg, nil),
			event("", "Target.targetCreated", map[string]interface{}{
				"targetInfo": map[string]interface{}{
					"targetId": "T0", "type": "page", "title": "", "url": "about:blank",
					"attached": false, "canAccessOpener": false,
				},
			}),
		}

	case "Target.attachToTarget":
		targetID, _ := params["targetId"].(string)
		return []devToolsMessage{reply(msg, map[string]string{"sessionId": "S-" + targetID})}

	case "Target.getTargetInfo":
		targetID := strings.TrimPrefix(msg.SessionID, "S-")
		return []devToolsMessage{reply(msg, map[string]interface{}{
			"targetInfo": map[string]interface{}{
				"targetId": targetID, "type": "page", "title": "", "url": "about:blank",
				"attached": true, "canAccessOpener": false,
			},
		})}

	case "Runtime.evaluate":
		return []devToolsMessage{reply(msg, map[string]interface{}{
			"result": map[string]string{"type": "object", "className": "Window"},
		})}

	case "Page.getFrameTree":
		return []devToolsMessage{reply(msg, map[string]interface{}{
			"frameTree": map[string]interface{}{
				"frame": map[string]interface{}{
					"id": "F-" + msg.SessionID, "loaderId": "L0", "url": "about:blank",
					"domainAndRegistry": "", "securityOrigin": "://", "mimeType": "text/html",
					"secureContextType": "Secure", "crossOriginIsolatedContextType": "NotIsolated",
					"gatedAPIFeatures": []string{},
				},
			},
		})}

	case "Network.setExtraHTTPHeaders":
		headers := map[string]string{}
		if raw, ok := params["headers"].(map[string]interface{}); ok {
			for k, v := range raw {
				headers[k] = fmt.Sprint(v)
			}
		}
		f.headers = append(f.headers, headers)
		return []devToolsMessage{reply(msg, nil)}

	case "Page.navigate":
		url, _ := params["url"].(string)
		f.navigations++
		f.navigated = append(f.navigated, url)
		loaderID := fmt.Sprintf("L%d", f.navigations)
		stale := "stale-" + loaderID

		// A previous document settling with a different status must not be
		// mistaken for this navigation.
		out := []devToolsMessage{
			devToolsDocumentResponse(msg.SessionID, stale, "about:blank", http.StatusInternalServerError),
			devToolsLifecycle(msg.SessionID, stale, lifecycleNetworkIdle),
		}
		result := map[string]string{"frameId": "F-" + msg.SessionID, "loaderId": loaderID}
		if f.errorText != "" {
			result["errorText"] = f.errorText
			return append(out, reply(msg, result))
		}
		out = append(out, reply(msg, result), devToolsDocumentResponse(msg.SessionID, loaderID, url, f.status), devToolsLifecycle(msg.SessionID, loaderID, "load"))
		if f.idle {
			out = append(out, devToolsLifecycle(msg.SessionID, loaderID, lifecycleNetworkIdle))
		}
		return out

	case "Page.getLayoutMetrics":
		layout := map[string]int{"pageX": 0, "pageY": 0, "clientWidth": DefaultWindowWidth, "clientHeight": DefaultWindowHeight}
		visual := map[string]int{"offsetX": 0, "offsetY": 0, "pageX": 0, "pageY": 0, "clientWidth": DefaultWindowWidth, "clientHeight": DefaultWindowHeight, "scale": 1}
		content := map[string]int{"x": 0, "y": 0, "width": DefaultWindowWidth, "height": DefaultWindowHeight}
		return []devToolsMessage{reply(msg, map[string]interface{}{
			"layoutViewport": layout, "visualViewport": visual, "contentSize": content,
			"cssLayoutViewport": layout, "cssVisualViewport": visual, "cssContentSize": content,
		})}

	case "Page.captureScreenshot":
		return []devToolsMessage{reply(msg, map[string]string{"data": base64.StdEncoding.EncodeToString(f.screenshot)})}

	case "Target.closeTarget":
		targetID, _ := params["targetId"].(string)
		f.closed = append(f.closed, targetID)
		return []devToolsMessage{
			reply(msg, map[string]bool{"success": true}),
			event("", "Target.detachedFromTarget", map[string]string{"sessionId": "S-" + targetID, "targetId": targetID}),
			event("", "Target.targetDestroyed", map[string]string{"targetId": targetID}),
		}

	default:
		return []devToolsMessage{reply(msg, nil)}
	}
}

func (f *fakeDevTools) closedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func (f *fakeDevTools) createdTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeDevTools) sentHeaders() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.headers...)
}

func (f *fakeDevTools) navigatedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

func (f *fakeDevTools) launcher(cfg Config) *ChromeLauncher {
	cfg.RemoteURL = f.URL()
	return NewChromeLauncher(cfg)
}

func withTestTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
