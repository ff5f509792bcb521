package sandbox

import (
	"strings"
	"text/template"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// LearnerScriptName is the filename reported for errors in learner js.
const LearnerScriptName = "learner.js"

// learnerLineOffset is how many lines of the learner script element come
// before the learner's first line.
const learnerLineOffset = 2

// The harness forwards console output and uncaught errors to the host and
// keeps the native console working. The learner js runs in its own script
// so that a syntax error in it still reaches the error listener.
var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>{{.CSS}}</style>
</head>
<body>
{{.HTML}}
<script data-name="harness.js">
(function () {
  var origin = '{{js .Origin}}';
  var native = {
    log: console.log,
    error: console.error,
    warn: console.warn,
    info: console.info
  };

  function send(type, text) {
    window.parent.postMessage({ type: type, text: text }, origin);
  }

  function format(args) {
    return Array.prototype.map.call(args, function (arg) {
      return typeof arg === 'object' ? JSON.stringify(arg, null, 2) : String(arg);
    }).join(' ');
  }

  console.log = function () {
    native.log.apply(console, arguments);
    send('console', format(arguments));
  };
  console.error = function () {
    native.error.apply(console, arguments);
    send('error', format(arguments));
  };
  console.warn = function () {
    native.warn.apply(console, arguments);
    send('console', 'WARN: ' + format(arguments));
  };
  console.info = function () {
    native.info.apply(console, arguments);
    send('console', 'INFO: ' + format(arguments));
  };

  window.addEventListener('error', function (event) {
    send('error', event.message + ' at ' + (event.filename || 'unknown') + ':' + (event.lineno || '?'));
  });
  window.addEventListener('unhandledrejection', function (event) {
    var reason = event.reason;
    send('error', 'Unhandled promise rejection: ' + ((reason && reason.message) || reason || 'Unknown error'));
  });

  window.__gradeboxSend = send;
  send('ready');
})();
</script>
<script data-name="{{.LearnerName}}">
try {
{{.JS}}
} catch (error) {
  window.__gradeboxSend('error', error.message + ' at ' + (error.stack || 'unknown'));
}
</script>
</body>
</html>
`))

type documentData struct {
	Origin      string
	LearnerName string
	HTML        string
	CSS         string
	JS          string
}

// BuildDocument synthesizes one instrumented HTML document from an
// html/css/js triple. Messages from the harness target origin.
func BuildDocument(code domain.Code, origin string) string {
	var b strings.Builder
	data := documentData{
		Origin:      origin,
		LearnerName: LearnerScriptName,
		HTML:        code.HTML,
		CSS:         code.CSS,
		JS:          code.JS,
	}
	// Execute only fails on writer errors, which strings.Builder never returns.
	_ = documentTemplate.Execute(&b, data)
	return b.String()
}

// Assemble returns the document a run executes. A single document is used
// as-is; a triple is instrumented with BuildDocument.
func Assemble(code domain.Code, origin string) string {
	if !code.IsMultiFile() {
		return code.Document
	}
	return BuildDocument(code, origin)
}
