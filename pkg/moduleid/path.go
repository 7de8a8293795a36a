package moduleid

import "strings"

// Join canonicalizes rel against base. Empty segments are dropped and "."
// segments removed; ".." cancels the nearest preceding segment or, when
// nothing is left to cancel, is kept at the front of the result.
//
//	Join("a/b", "./c")    -> "a/b/c"
//	Join("a/b", "../c")   -> "a/c"
//	Join("", "../c")      -> "../c"
//	Join("../abc", "./c") -> "../abc/c"
func Join(base, rel string) string {
	var parts []string
	for _, seg := range strings.Split(base+"/"+rel, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(normalize(parts), "/")
}

// normalize resolves "." and ".." walking from the end, the same way
// node's path.resolve does for paths that are allowed above the root.
func normalize(parts []string) []string {
	up := 0
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		switch seg := parts[i]; {
		case seg == ".":
		case seg == "..":
			up++
		case up > 0:
			up--
		default:
			out = append(out, seg)
		}
	}
	for ; up > 0; up-- {
		out = append(out, "..")
	}

	// out was built back to front
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Dir returns everything before the last slash. A path without a slash
// has an empty directory; "abc/" yields "abc".
func Dir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// ResolvePath resolves rel against the directory of a module path such as
// "/lib/index.js". The result is relative to the package root.
//
//	ResolvePath("./a.png", "")          -> "a.png"
//	ResolvePath("../a.png", "")         -> "../a.png"
//	ResolvePath("a.png", "/index.js")   -> "a.png"
func ResolvePath(rel, modulePath string) string {
	return Join(strings.TrimPrefix(Dir(modulePath), "/"), rel)
}

// Escapes reports whether a package-relative path points above the
// package root
func Escapes(p string) bool {
	return p == ".." || strings.HasPrefix(p, "../") || strings.Contains(p, "/../")
}
