package watch

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// BindingName is the CDP binding the in-page trigger script calls.
const BindingName = "__zhuqueRecorderTrigger"

// Armer is the coordinator as seen from the trigger detector.
type Armer interface {
	Arm()
}

// TriggerDetector turns in-page submission signals into capture arming. The
// page side is a script installed before first script evaluation that listens
// at the document level with event capture, so no page handler can suppress
// it; matches are reported through the CDP binding.
type TriggerDetector struct {
	armer Armer
}

// NewTriggerDetector creates a detector arming the given coordinator.
func NewTriggerDetector(armer Armer) *TriggerDetector {
	return &TriggerDetector{armer: armer}
}

// triggerEvent is the payload the in-page script sends.
type triggerEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// OnBindingCalled handles a trigger binding payload from the page.
func (d *TriggerDetector) OnBindingCalled(payload string) {
	var ev triggerEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Debug("trigger payload unparseable", "payload", payload, "error", err)
		return
	}
	switch ev.Kind {
	case "click":
		slog.Info("submission click observed", "text", ev.Text)
	case "shortcut":
		slog.Info("submission shortcut observed")
	default:
		slog.Debug("unknown trigger kind", "kind", ev.Kind)
		return
	}
	d.armer.Arm()
}

// TriggerScript renders the in-page detection script for the configured
// submission-verb phrases.
func TriggerScript(phrases []string) string {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		b, _ := json.Marshal(p)
		quoted[i] = string(b)
	}

	var b strings.Builder
	b.WriteString(`(function () {
  if (window.` + BindingName + `Installed) return;
  window.` + BindingName + `Installed = true;
  var phrases = [` + strings.Join(quoted, ", ") + `];
  function report(kind, text) {
    try { window.` + BindingName + `(JSON.stringify({kind: kind, text: text || ""})); } catch (_) {}
  }
  function clickable(el) {
    while (el && el !== document.body) {
      var tag = el.tagName ? el.tagName.toLowerCase() : "";
      if (tag === "button" || tag === "a" || el.getAttribute && el.getAttribute("role") === "button" ||
          (el.className && String(el.className).indexOf("btn") !== -1)) {
        return el;
      }
      el = el.parentElement;
    }
    return null;
  }
  document.addEventListener("click", function (e) {
    var el = clickable(e.target);
    if (!el) return;
    var text = (el.textContent || "").trim();
    if (!text || text.length > 40) return;
    for (var i = 0; i < phrases.length; i++) {
      if (text.indexOf(phrases[i]) !== -1) { report("click", text); return; }
    }
  }, true);
  document.addEventListener("keydown", function (e) {
    if ((e.ctrlKey || e.metaKey) && e.key === "Enter") report("shortcut");
  }, true);
})();`)
	return b.String()
}
