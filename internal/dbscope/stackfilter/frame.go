package stackfilter

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Frame is one parsed call-stack entry.
//
// For "github.com/acme/shop/store.(*Repo).Find.func1" the frame has
// Package "github.com/acme/shop/store", Type "Repo", Enclosing ["Find"] and
// Method "func1".
type Frame struct {
	Raw       string
	Package   string
	Type      string
	Enclosing []string
	Method    string
	File      string
	Line      int
}

// Stack is an ordered list of frames, innermost first.
type Stack []Frame

var closureRe = regexp.MustCompile(`^(func\d+|\d+)$`)

// Capture records the calling goroutine's stack, skipping skip frames above
// the caller of Capture.
func Capture(skip int) Stack {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stack Stack
	for {
		f, more := frames.Next()
		if f.Function != "" {
			fr := ParseFrame(f.Function)
			fr.File = f.File
			fr.Line = f.Line
			stack = append(stack, fr)
		}
		if !more {
			break
		}
	}
	return stack
}

// ParseFrame splits a fully qualified Go function name into its parts.
func ParseFrame(fn string) Frame {
	fr := Frame{Raw: fn}

	name := stripTypeParams(fn)
	slash := strings.LastIndex(name, "/")
	dot := strings.Index(name[slash+1:], ".")
	if dot < 0 {
		fr.Method = name
		return fr
	}
	dot += slash + 1
	// the runtime escapes dots in the last path element, as in yaml%2ev3
	fr.Package = strings.ReplaceAll(name[:dot], "%2e", ".")

	parts := strings.Split(name[dot+1:], ".")
	switch {
	case strings.HasPrefix(parts[0], "("):
		fr.Type = strings.TrimSuffix(strings.TrimPrefix(parts[0], "(*"), ")")
		fr.Type = strings.TrimPrefix(fr.Type, "(")
		parts = parts[1:]
	case len(parts) > 1 && parts[0] != "glob" && !closureRe.MatchString(parts[1]) && !strings.HasPrefix(parts[0], "init"):
		fr.Type = parts[0]
		parts = parts[1:]
	}

	// "glob..func1" splits into "glob", "", "func1".
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return fr
	}
	fr.Method = kept[len(kept)-1]
	fr.Enclosing = append([]string(nil), kept[:len(kept)-1]...)
	return fr
}

func stripTypeParams(fn string) string {
	if !strings.Contains(fn, "[") {
		return fn
	}
	var b strings.Builder
	depth := 0
	for _, r := range fn {
		switch {
		case r == '[':
			depth++
		case r == ']':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PackageName returns the last element of the import path.
func (f Frame) PackageName() string {
	if i := strings.LastIndex(f.Package, "/"); i >= 0 {
		return f.Package[i+1:]
	}
	return f.Package
}

// IsSynthetic reports whether the frame belongs to compiler-generated code:
// closures, method values and package-level initialisers.
func (f Frame) IsSynthetic() bool {
	if strings.HasPrefix(f.Raw, "<") {
		return true
	}
	if strings.EqualFold(f.Method, "lambda_method") {
		return true
	}
	if closureRe.MatchString(f.Method) || strings.HasSuffix(f.Method, "-fm") {
		return true
	}
	return strings.Contains(f.Raw, ".glob.")
}

// FullName renders the frame as Package.Type.Method().
func (f Frame) FullName() string {
	names := append(append([]string(nil), f.Enclosing...), f.Method)
	method := fmt.Sprintf("%s()", strings.Join(names, "."))
	if f.Package == "" && f.Type == "" {
		return method
	}
	if f.Type == "" {
		return f.Package + "." + method
	}
	return f.Package + "." + f.Type + "." + method
}
