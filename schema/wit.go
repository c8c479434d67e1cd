package schema

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wasmlab/component-host/errors"
)

// ParseWIT extracts an Interface from WIT-style function declarations.
// Pattern: [export] name: func(params) -> result;
//
// Supported types are the schema's portable value model: scalars,
// string, and list<T> (list<u8> maps to the bytes type). Records and
// variants are constructed programmatically, not parsed from text.
func ParseWIT(text string) (*Interface, error) {
	funcPattern := regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

	matches := funcPattern.FindAllStringSubmatch(text, -1)
	iface := &Interface{}

	for _, match := range matches {
		sig := Signature{Name: match[1]}

		paramsStr := strings.TrimSpace(match[2])
		if paramsStr != "" {
			for _, p := range splitParams(paramsStr) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = strings.TrimSpace(p[idx+1:])
				}
				t, err := parseTypeString(typStr)
				if err != nil {
					return nil, err
				}
				sig.Params = append(sig.Params, t)
			}
		}

		resultStr := ""
		if len(match) > 3 {
			resultStr = strings.TrimSpace(match[3])
		}
		if resultStr != "" && resultStr != "()" {
			if strings.HasPrefix(resultStr, "(") && strings.HasSuffix(resultStr, ")") {
				inner := strings.TrimPrefix(strings.TrimSuffix(resultStr, ")"), "(")
				for _, part := range splitParams(inner) {
					t, err := parseTypeString(part)
					if err != nil {
						return nil, err
					}
					sig.Results = append(sig.Results, t)
				}
			} else {
				t, err := parseTypeString(resultStr)
				if err != nil {
					return nil, err
				}
				sig.Results = []TypeDesc{t}
			}
		}

		iface.Funcs = append(iface.Funcs, sig)
	}

	if len(iface.Funcs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	return iface, nil
}

// splitParams splits a parameter list, handling nested angle brackets
// and parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func parseTypeString(s string) (TypeDesc, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">") {
		inner := strings.TrimSpace(s[len("list<") : len(s)-1])
		if inner == "u8" {
			return Bytes(), nil
		}
		elem, err := parseTypeString(inner)
		if err != nil {
			return TypeDesc{}, err
		}
		return List(elem), nil
	}

	wt, err := wit.ParseType(s)
	if err != nil {
		return TypeDesc{}, errors.Wrap(errors.PhaseParse, errors.KindInvalidInput, err, "parse type "+s)
	}
	return witToDesc(wt, s)
}

func witToDesc(t wit.Type, s string) (TypeDesc, error) {
	switch t.(type) {
	case wit.Bool:
		return Bool(), nil
	case wit.S8, wit.S16, wit.S32:
		return S32(), nil
	case wit.S64:
		return S64(), nil
	case wit.U8, wit.U16, wit.U32, wit.Char:
		return U32(), nil
	case wit.U64:
		return U64(), nil
	case wit.F32:
		return F32(), nil
	case wit.F64:
		return F64(), nil
	case wit.String:
		return String(), nil
	default:
		return TypeDesc{}, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Detail("unsupported WIT type %q", s).
			Build()
	}
}
