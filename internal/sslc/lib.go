//go:build linux || darwin

package sslc

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Mirrors of the library's C structs. Field order and padding must match
// the 64-bit layout of parser.h exactly; only the fields we read are
// named.

type cValue struct {
	typ  int32
	data int32
}

type cNodeList struct {
	nodes uintptr
	num   int32
	_     int32
}

type cReference struct {
	line int32
	_    int32
	file uintptr
}

type cVariable struct {
	name        int32
	_           int32
	references  uintptr
	numRefs     int32
	value       cValue
	typ         int32
	arrayLen    int32
	declared    int32
	fdeclared   uintptr
	uses        int32
	initialized int32
}

type cProcedure struct {
	name            int32
	typ             int32
	cond            cNodeList // union { int time; NodeList condition }
	namelist        uintptr
	numArgs         int32
	defined         int32
	variables       uintptr
	numVariables    int32
	_               int32
	references      uintptr
	numRefs         int32
	uses            int32
	declared        int32
	_               int32
	fdeclared       uintptr
	start           int32
	_               int32
	fstart          uintptr
	end             int32
	_               int32
	fend            uintptr
	nodes           cNodeList
	minArgs         int32
	deftype         int32
	stringifiedName int32
	_               int32
}

// Library is a loaded SSLC parser shared library. The library keeps one
// global parse state, so Parse calls must be serialized by the caller
// (the session loop already guarantees this).
type Library struct {
	handle uintptr

	parseMain            func(filePath, origPath, dir string) int32
	numProcs             func() int32
	getProc              func(i int32, out unsafe.Pointer)
	numVars              func() int32
	getVar               func(i int32, out unsafe.Pointer)
	getProcVar           func(i, j int32, out unsafe.Pointer)
	getProcRefs          func(i int32, refs unsafe.Pointer)
	getVarRefs           func(i int32, refs unsafe.Pointer)
	getProcVarRefs       func(i, j int32, refs unsafe.Pointer)
	namespaceSize        func() int32
	getNamespace         func(data unsafe.Pointer)
	getProcNamespaceSize func(i int32) int32
	getProcNamespace     func(i int32, data unsafe.Pointer)
}

// Open loads the parser shared library from path.
func Open(path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("sslc: failed to load parser library %s: %w", path, err)
	}

	l := &Library{handle: handle}
	purego.RegisterLibFunc(&l.parseMain, handle, "parse_main")
	purego.RegisterLibFunc(&l.numProcs, handle, "numProcs")
	purego.RegisterLibFunc(&l.getProc, handle, "getProc")
	purego.RegisterLibFunc(&l.numVars, handle, "numVars")
	purego.RegisterLibFunc(&l.getVar, handle, "getVar")
	purego.RegisterLibFunc(&l.getProcVar, handle, "getProcVar")
	purego.RegisterLibFunc(&l.getProcRefs, handle, "getProcRefs")
	purego.RegisterLibFunc(&l.getVarRefs, handle, "getVarRefs")
	purego.RegisterLibFunc(&l.getProcVarRefs, handle, "getProcVarRefs")
	purego.RegisterLibFunc(&l.namespaceSize, handle, "namespaceSize")
	purego.RegisterLibFunc(&l.getNamespace, handle, "getNamespace")
	purego.RegisterLibFunc(&l.getProcNamespaceSize, handle, "getProcNamespaceSize")
	purego.RegisterLibFunc(&l.getProcNamespace, handle, "getProcNamespace")
	return l, nil
}

// Close unloads the library.
func (l *Library) Close() error {
	return purego.Dlclose(l.handle)
}

// Parse runs the library's parser over the file at tempPath and decodes
// every procedure and variable into plain Go values.
func (l *Library) Parse(tempPath, origPath, includeDir string) (*ParseResult, error) {
	if code := l.parseMain(tempPath, origPath, includeDir); code != 0 {
		return nil, errorFromCode(code)
	}

	globalNames := l.fetchNamespace()
	result := &ParseResult{}

	nProcs := int(l.numProcs())
	for i := 0; i < nProcs; i++ {
		var cp cProcedure
		l.getProc(int32(i), unsafe.Pointer(&cp))

		p := Procedure{
			Name:         nameAt(globalNames, cp.name),
			Flags:        int(cp.typ),
			NumArgs:      int(cp.numArgs),
			Declared:     int(cp.declared),
			DeclaredFile: goString(cp.fdeclared),
			Start:        int(cp.start),
			End:          int(cp.end),
		}
		if n := int(cp.numRefs); n > 0 {
			refs := make([]cReference, n)
			l.getProcRefs(int32(i), unsafe.Pointer(&refs[0]))
			p.References = decodeRefs(refs)
		}

		localNames := l.fetchProcNamespace(int32(i))
		for j := 0; j < int(cp.numVariables); j++ {
			var cv cVariable
			l.getProcVar(int32(i), int32(j), unsafe.Pointer(&cv))
			v := decodeVariable(&cv, localNames)
			if n := int(cv.numRefs); n > 0 {
				refs := make([]cReference, n)
				l.getProcVarRefs(int32(i), int32(j), unsafe.Pointer(&refs[0]))
				v.References = decodeRefs(refs)
			}
			p.Variables = append(p.Variables, v)
		}

		result.Procedures = append(result.Procedures, p)
	}

	nVars := int(l.numVars())
	for i := 0; i < nVars; i++ {
		var cv cVariable
		l.getVar(int32(i), unsafe.Pointer(&cv))
		v := decodeVariable(&cv, globalNames)
		if n := int(cv.numRefs); n > 0 {
			refs := make([]cReference, n)
			l.getVarRefs(int32(i), unsafe.Pointer(&refs[0]))
			v.References = decodeRefs(refs)
		}
		result.Variables = append(result.Variables, v)
	}

	return result, nil
}

// fetchNamespace copies the library's global name buffer.
func (l *Library) fetchNamespace() []byte {
	size := l.namespaceSize()
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	l.getNamespace(unsafe.Pointer(&buf[0]))
	return buf
}

// fetchProcNamespace copies procedure i's local name buffer, or nil when
// the procedure has no local namespace.
func (l *Library) fetchProcNamespace(i int32) []byte {
	size := l.getProcNamespaceSize(i)
	if size <= 0 {
		return nil
	}
	buf := make([]byte, size)
	l.getProcNamespace(i, unsafe.Pointer(&buf[0]))
	return buf
}

func decodeVariable(cv *cVariable, names []byte) Variable {
	return Variable{
		Name:         nameAt(names, cv.name),
		Type:         int(cv.typ),
		ArrayLen:     int(cv.arrayLen),
		Declared:     int(cv.declared),
		DeclaredFile: goString(cv.fdeclared),
		Initialized:  cv.initialized != 0,
	}
}

func decodeRefs(refs []cReference) []Reference {
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = Reference{Line: int(r.line), File: goString(r.file)}
	}
	return out
}

// nameAt decodes the name stored at the given offset of a namelist
// buffer: a two-byte little-endian length followed by the name bytes.
// Buffers from older library builds store plain NUL-terminated strings,
// so an implausible length falls back to that.
func nameAt(buf []byte, off int32) string {
	if off < 0 || int(off)+2 > len(buf) {
		return ""
	}
	n := int(buf[off]) | int(buf[off+1])<<8
	start := int(off) + 2
	if n <= 0 || start+n > len(buf) {
		end := int(off)
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		return string(buf[off:end])
	}
	s := buf[start : start+n]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// goString copies a NUL-terminated C string owned by the library.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var b []byte
	for i := uintptr(0); ; i++ {
		c := *(*byte)(unsafe.Pointer(ptr + i)) //nolint:govet // pointer owned by the C library
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}
