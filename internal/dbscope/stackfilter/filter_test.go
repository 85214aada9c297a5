package stackfilter

import (
	"strings"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name      string
		fn        string
		pkg       string
		typ       string
		enclosing []string
		method    string
	}{
		{"plain function", "main.main", "main", "", nil, "main"},
		{"pointer receiver", "github.com/acme/shop/store.(*Repo).Find", "github.com/acme/shop/store", "Repo", nil, "Find"},
		{"value receiver", "github.com/acme/shop/store.Repo.Count", "github.com/acme/shop/store", "Repo", nil, "Count"},
		{"closure in method", "github.com/acme/shop/store.(*Repo).Find.func1", "github.com/acme/shop/store", "Repo", []string{"Find"}, "func1"},
		{"closure in function", "github.com/acme/shop/api.handle.func2", "github.com/acme/shop/api", "", []string{"handle"}, "func2"},
		{"nested closure", "github.com/acme/shop/api.handle.func2.1", "github.com/acme/shop/api", "", []string{"handle", "func2"}, "1"},
		{"method value", "github.com/acme/shop/store.(*Repo).Find-fm", "github.com/acme/shop/store", "Repo", nil, "Find-fm"},
		{"escaped dot in path", "gopkg.in/yaml%2ev3.Unmarshal", "gopkg.in/yaml.v3", "", nil, "Unmarshal"},
		{"generic function", "github.com/acme/shop/util.Map[...]", "github.com/acme/shop/util", "", nil, "Map"},
		{"package initialiser", "github.com/acme/shop/api.init.0", "github.com/acme/shop/api", "", []string{"init"}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := ParseFrame(tt.fn)
			if fr.Package != tt.pkg {
				t.Errorf("Package = %q, want %q", fr.Package, tt.pkg)
			}
			if fr.Type != tt.typ {
				t.Errorf("Type = %q, want %q", fr.Type, tt.typ)
			}
			if strings.Join(fr.Enclosing, ",") != strings.Join(tt.enclosing, ",") {
				t.Errorf("Enclosing = %v, want %v", fr.Enclosing, tt.enclosing)
			}
			if fr.Method != tt.method {
				t.Errorf("Method = %q, want %q", fr.Method, tt.method)
			}
		})
	}
}

func stackOf(fns ...string) Stack {
	var s Stack
	for _, fn := range fns {
		s = append(s, ParseFrame(fn))
	}
	return s
}

func TestGetFilteredStackTrace_NilAndEmpty(t *testing.T) {
	f := New()
	if got := f.GetFilteredStackTrace(nil); got != "" {
		t.Errorf("nil stack = %q, want empty", got)
	}
	if got := f.GetFilteredStackTrace(Stack{}); got != "" {
		t.Errorf("empty stack = %q, want empty", got)
	}
}

func TestGetFilteredStackTrace_RendersInOrder(t *testing.T) {
	f := New()
	got := f.GetFilteredStackTrace(stackOf(
		"github.com/acme/shop/store.(*Repo).Find",
		"github.com/acme/shop/api.handle.func2",
		"main.main",
	))

	want := strings.Join([]string{
		"github.com/acme/shop/store.Repo.Find()",
		"github.com/acme/shop/api.handle.func2()" + SyntheticSuffix,
		"main.main()",
	}, "\n")
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestGetFilteredStackTrace_ExcludePackage(t *testing.T) {
	f := New()
	f.ExcludePackage("orm")

	got := f.GetFilteredStackTrace(stackOf(
		"github.com/acme/orm.(*Session).Exec",
		"github.com/acme/orm.query",
		"github.com/acme/orm.(*Session).Exec.func1",
	))
	if got != "" {
		t.Errorf("all frames from excluded package: got %q, want empty", got)
	}

	f2 := New()
	f2.ExcludePackage("github.com/acme/orm")
	got = f2.GetFilteredStackTrace(stackOf("github.com/acme/orm.query", "main.main"))
	if got != "main.main()" {
		t.Errorf("full import path exclusion: got %q", got)
	}
}

func TestGetFilteredStackTrace_ExcludeTypeWalksEnclosingChain(t *testing.T) {
	f := New()
	f.ExcludeType("Repo")
	f.ExcludeType("withRetry")

	got := f.GetFilteredStackTrace(stackOf(
		"github.com/acme/shop/store.(*Repo).Find",
		"github.com/acme/shop/store.(*Repo).Find.func1",
		"github.com/acme/shop/store.withRetry.func1",
		"github.com/acme/shop/api.handle",
	))
	if got != "github.com/acme/shop/api.handle()" {
		t.Errorf("got %q", got)
	}
}

func TestGetFilteredStackTrace_ExcludeMethod(t *testing.T) {
	f := New()
	f.ExcludeMethod("Find")

	got := f.GetFilteredStackTrace(stackOf(
		"github.com/acme/shop/store.(*Repo).Find",
		"github.com/acme/shop/store.(*Repo).Save",
	))
	if got != "github.com/acme/shop/store.Repo.Save()" {
		t.Errorf("got %q", got)
	}
}

func TestNewDefault_DropsSelfAndDenylist(t *testing.T) {
	f := NewDefault("github.com/acme/telemetry/")

	got := f.GetFilteredStackTrace(stackOf(
		"github.com/vaibhaw-/dbscope/internal/dbscope/capture.(*Conn).ExecContext",
		"database/sql.(*Conn).ExecContext",
		"runtime.goexit",
		"github.com/acme/telemetry.wrap",
		"github.com/gin-gonic/gin.(*Context).Next",
		"github.com/acme/shop/api.handle",
	))
	if got != "github.com/acme/shop/api.handle()" {
		t.Errorf("got %q", got)
	}
}

func TestNewDefault_KeepsApplicationPackagesOfThisModule(t *testing.T) {
	f := NewDefault()

	got := f.GetFilteredStackTrace(stackOf(
		"github.com/vaibhaw-/dbscope/internal/dbscope/capture.(*Conn).ExecContext",
		"github.com/vaibhaw-/dbscope/internal/dbscope/request.(*Context).Publish",
		"github.com/vaibhaw-/dbscope/internal/dbscope/workload.execute",
		"github.com/vaibhaw-/dbscope/internal/dbscope/workload.(*worker).run",
		"runtime.goexit",
	))
	want := "github.com/vaibhaw-/dbscope/internal/dbscope/workload.execute()\n" +
		"github.com/vaibhaw-/dbscope/internal/dbscope/workload.worker.run()"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIsSynthetic(t *testing.T) {
	tests := []struct {
		fr   Frame
		want bool
	}{
		{ParseFrame("github.com/acme/shop/api.handle.func1"), true},
		{ParseFrame("github.com/acme/shop/store.(*Repo).Find-fm"), true},
		{ParseFrame("github.com/acme/shop/api.glob..func1"), true},
		{Frame{Raw: "<Main>b__0", Method: "<Main>b__0"}, true},
		{Frame{Raw: "lambda_method", Method: "lambda_method"}, true},
		{ParseFrame("github.com/acme/shop/api.handle"), false},
	}
	for _, tt := range tests {
		if got := tt.fr.IsSynthetic(); got != tt.want {
			t.Errorf("IsSynthetic(%q) = %v, want %v", tt.fr.Raw, got, tt.want)
		}
	}
}

func TestCapture_SeesCaller(t *testing.T) {
	stack := Capture(0)
	if len(stack) == 0 {
		t.Fatal("Capture returned no frames")
	}
	if stack[0].Method != "TestCapture_SeesCaller" {
		t.Errorf("innermost frame = %q, want TestCapture_SeesCaller", stack[0].Raw)
	}
	if stack[0].PackageName() != "stackfilter" {
		t.Errorf("PackageName = %q, want stackfilter", stack[0].PackageName())
	}
}
