//go:build !nochallenge

package engine

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/robertkrimen/otto"
)

var errScriptHalt = errors.New("script timed out")

// sandboxBootstrap seeds the interpreter with the handful of browser
// globals challenge scripts touch. document.cookie writes are logged, and
// getElementById hands out stubs backed by the challenge form's inputs.
const sandboxBootstrap = `
var __fields = JSON.parse(__fieldsJSON);
var location = JSON.parse(__locationJSON);
location.reload = location.assign = location.replace = function () {};
var window = this;
var self = this;
var top = this;
var __cookieLog = [];
var __cookieJar = {};
var __elements = {};
var __submitted = false;

function __stub(id) {
	if (!__elements[id]) {
		var init = __fields.hasOwnProperty(id) ? __fields[id] : "";
		__elements[id] = {
			id: id, value: init, innerHTML: "", innerText: "", style: {},
			href: "", firstChild: { href: "" },
			appendChild: function () {}, removeChild: function () {},
			setAttribute: function (k, v) { this[k] = v; },
			getAttribute: function (k) { return this[k]; },
			addEventListener: function () {},
			submit: function () { __submitted = true; }
		};
	}
	return __elements[id];
}

var document = {
	readyState: "complete",
	referrer: "",
	location: location,
	body: { appendChild: function () {}, removeChild: function () {} },
	getElementById: __stub,
	querySelector: function (sel) { return __stub(String(sel).replace(/^#/, "")); },
	getElementsByTagName: function () { return []; },
	getElementsByName: function (n) { return [__stub(n)]; },
	createElement: function (tag) { var e = __stub("__" + tag + Object.keys(__elements).length); e.tagName = tag; return e; },
	addEventListener: function (t, fn) { if (t === "DOMContentLoaded" && typeof fn === "function") { fn(); } }
};
Object.defineProperty(document, "cookie", {
	get: function () {
		var parts = [];
		for (var k in __cookieJar) { parts.push(k + "=" + __cookieJar[k]); }
		return parts.join("; ");
	},
	set: function (v) {
		v = String(v);
		__cookieLog.push(v);
		var pair = v.split(";")[0];
		var i = pair.indexOf("=");
		if (i > 0) { __cookieJar[pair.substring(0, i).trim()] = pair.substring(i + 1).trim(); }
	}
});

var navigator = {
	userAgent: __userAgent, language: "en-US", languages: ["en-US", "en"],
	platform: "Win32", cookieEnabled: true, webdriver: false, plugins: [1, 2, 3]
};
var screen = { width: 1920, height: 1080, availWidth: 1920, availHeight: 1040, colorDepth: 24 };

function setTimeout(fn) { if (typeof fn === "function") { fn(); } return 1; }
function setInterval() { return 1; }
function clearTimeout() {}
function clearInterval() {}
window.addEventListener = document.addEventListener;
`

// sandbox is one otto VM primed with a fake browser environment.
type sandbox struct {
	vm      *otto.Otto
	timeout time.Duration
	form    *challengeForm
	initErr error
}

func newSandbox(page *url.URL, ua string, form *challengeForm, timeout time.Duration) *sandbox {
	vm := otto.New()
	sb := &sandbox{vm: vm, timeout: timeout, form: form}

	fields := make(map[string]string)
	if form != nil {
		for _, f := range form.fields {
			if f.id != "" {
				fields[f.id] = f.value
			}
			if f.name != "" {
				fields[f.name] = f.value
			}
		}
	}

	loc := map[string]string{
		"href":     page.String(),
		"protocol": page.Scheme + ":",
		"host":     page.Host,
		"hostname": page.Hostname(),
		"port":     page.Port(),
		"pathname": page.Path,
		"search":   queryPrefix(page.RawQuery),
		"hash":     "",
		"origin":   page.Scheme + "://" + page.Host,
	}

	fieldsJSON, _ := json.Marshal(fields)
	locJSON, _ := json.Marshal(loc)

	for name, v := range map[string]any{
		"__fieldsJSON":   string(fieldsJSON),
		"__locationJSON": string(locJSON),
		"__userAgent":    ua,
		// The interpreter has no base64 builtins.
		"atob": func(call otto.FunctionCall) otto.Value {
			raw, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
			if err != nil {
				panic(vm.MakeCustomError("InvalidCharacterError", err.Error()))
			}
			v, _ := vm.ToValue(string(raw))
			return v
		},
		"btoa": func(call otto.FunctionCall) otto.Value {
			v, _ := vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
			return v
		},
	} {
		if err := vm.Set(name, v); err != nil {
			sb.initErr = err
			return sb
		}
	}
	if _, err := vm.Run(sandboxBootstrap); err != nil {
		sb.initErr = err
	}
	return sb
}

func queryPrefix(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

// run executes one script under the wall-clock limit.
func (sb *sandbox) run(src string) (err error) {
	if sb.initErr != nil {
		return fmt.Errorf("bootstrap: %w", sb.initErr)
	}
	interrupt := make(chan func(), 1)
	sb.vm.Interrupt = interrupt
	timer := time.AfterFunc(sb.timeout, func() {
		interrupt <- func() { panic(errScriptHalt) }
	})
	defer func() {
		timer.Stop()
		sb.vm.Interrupt = nil
		if r := recover(); r != nil {
			if r == errScriptHalt {
				err = errScriptHalt
				return
			}
			panic(r)
		}
	}()
	_, err = sb.vm.Run(src)
	return err
}

// cookies returns the cookies scripts wrote to document.cookie.
func (sb *sandbox) cookies() []*http.Cookie {
	var log []string
	if err := sb.export("__cookieLog", &log); err != nil {
		return nil
	}
	var out []*http.Cookie
	for _, raw := range log {
		c, err := http.ParseSetCookie(raw)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// formValues returns the challenge form's fields with any values scripts
// assigned to their stubs.
func (sb *sandbox) formValues() url.Values {
	var values map[string]string
	_ = sb.export(`(function () {
		var o = {};
		for (var k in __elements) { o[k] = String(__elements[k].value); }
		return o;
	})()`, &values)

	out := url.Values{}
	if sb.form == nil {
		return out
	}
	for _, f := range sb.form.fields {
		if f.name == "" {
			continue
		}
		v := f.value
		if got, ok := values[f.id]; ok && f.id != "" {
			v = got
		} else if got, ok := values[f.name]; ok {
			v = got
		}
		out.Set(f.name, v)
	}
	return out
}

// export evaluates expr and decodes its JSON form into dst.
func (sb *sandbox) export(expr string, dst any) error {
	v, err := sb.vm.Run("JSON.stringify(" + expr + ")")
	if err != nil {
		return err
	}
	s, err := v.ToString()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(s), dst)
}
