package extract

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var pythonBuiltins = set(
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool", "breakpoint",
	"bytearray", "bytes", "callable", "chr", "classmethod", "compile", "complex",
	"delattr", "dict", "dir", "divmod", "enumerate", "eval", "exec", "filter",
	"float", "format", "frozenset", "getattr", "globals", "hasattr", "hash",
	"help", "hex", "id", "input", "int", "isinstance", "issubclass", "iter",
	"len", "list", "locals", "map", "max", "memoryview", "min", "next",
	"object", "oct", "open", "ord", "pow", "print", "property", "range",
	"repr", "reversed", "round", "set", "setattr", "slice", "sorted",
	"staticmethod", "str", "sum", "super", "tuple", "type", "vars", "zip",
	"__import__", "__name__", "__file__", "__doc__", "__package__", "__spec__",
	"None", "True", "False", "NotImplemented", "Ellipsis",
	"Exception", "BaseException", "ValueError", "TypeError", "KeyError",
	"IndexError", "AttributeError", "RuntimeError", "NotImplementedError",
	"StopIteration", "OSError", "IOError", "ImportError", "AssertionError",
	"ZeroDivisionError", "FileNotFoundError", "PermissionError", "LookupError",
	"ArithmeticError", "UnicodeError", "KeyboardInterrupt", "SystemExit",
	"self", "cls",
)

var jsBuiltins = set(
	"console", "window", "document", "globalThis", "process", "require",
	"module", "exports", "undefined", "NaN", "Infinity", "arguments",
	"Object", "Array", "String", "Number", "Boolean", "Symbol", "BigInt",
	"Math", "JSON", "Date", "RegExp", "Error", "TypeError", "RangeError",
	"SyntaxError", "Promise", "Map", "Set", "WeakMap", "WeakSet", "Reflect",
	"Proxy", "Intl", "parseInt", "parseFloat", "isNaN", "isFinite",
	"setTimeout", "clearTimeout", "setInterval", "clearInterval",
	"queueMicrotask", "structuredClone", "fetch", "encodeURIComponent",
	"decodeURIComponent", "encodeURI", "decodeURI", "Buffer", "this", "super",
)

var goBuiltins = set(
	"append", "cap", "clear", "close", "complex", "copy", "delete", "imag",
	"len", "make", "max", "min", "new", "panic", "print", "println", "real",
	"recover", "nil", "true", "false", "iota", "_",
	"bool", "byte", "rune", "string", "error", "any", "comparable",
	"int", "int8", "int16", "int32", "int64",
	"uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
	"float32", "float64", "complex64", "complex128",
)
