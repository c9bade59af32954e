package xlfmla

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FuncImpl computes one function call. Arguments arrive as popped from the
// stack: references are not dereferenced, so aggregates can iterate them.
type FuncImpl func(c *Call, args []Operand) Operand

// FunctionDef describes a built-in function.
type FunctionDef struct {
	Index            int
	Name             string
	MinArgs, MaxArgs int
	// Ret is the class of the result.
	Ret OperandClass
	// ArgClasses holds one of R, V or A per argument; the last one repeats.
	ArgClasses string
	Volatile   bool
	// Policy is how numeric arguments are coerced.
	Policy CoercionPolicy
	// Impl is nil for functions that are known but not implemented.
	Impl FuncImpl
}

// ArgClass is the operand class expected for argument i.
func (d *FunctionDef) ArgClass(i int) OperandClass {
	if d.ArgClasses == "" {
		return ClassValue
	}
	if i >= len(d.ArgClasses) {
		i = len(d.ArgClasses) - 1
	}
	return classFromLetter(d.ArgClasses[i])
}

// Fixed reports whether the function always takes the same number of
// arguments and so encodes as tFunc.
func (d *FunctionDef) Fixed() bool {
	return d.MinArgs == d.MaxArgs
}

func classFromLetter(c byte) OperandClass {
	switch c {
	case 'R':
		return ClassReference
	case 'A':
		return ClassArray
	}
	return ClassValue
}

// implEntry binds an implementation and its coercion policy to a name.
type implEntry struct {
	impl   FuncImpl
	policy CoercionPolicy
}

type funcRegistry struct {
	byIndex map[int]*FunctionDef
	byName  map[string]*FunctionDef
	names   []string
}

var (
	registryOnce sync.Once
	registry     *funcRegistry
)

func functions() *funcRegistry {
	registryOnce.Do(func() {
		impls := map[string]implEntry{}
		for _, family := range []map[string]implEntry{
			mathFuncs(), statFuncs(), logicalFuncs(), textFuncs(),
			lookupFuncs(), dateFuncs(), financialFuncs(),
		} {
			for name, e := range family {
				impls[name] = e
			}
		}
		reg := &funcRegistry{byIndex: map[int]*FunctionDef{}, byName: map[string]*FunctionDef{}}
		for _, s := range builtinFuncs {
			def := &FunctionDef{
				Index:      s.index,
				Name:       s.name,
				MinArgs:    s.min,
				MaxArgs:    s.max,
				Ret:        classFromLetter(s.ret),
				ArgClasses: s.args,
				Volatile:   s.volatile,
				Policy:     ScalarArgs,
			}
			if e, ok := impls[s.name]; ok {
				def.Impl = e.impl
				if e.policy != 0 {
					def.Policy = e.policy
				}
			}
			reg.byIndex[def.Index] = def
			reg.byName[def.Name] = def
			reg.names = append(reg.names, def.Name)
		}
		sort.Strings(reg.names)
		registry = reg
	})
	return registry
}

// funcByIndex returns the built-in with the given BIFF index, or nil.
func funcByIndex(index int) *FunctionDef {
	return functions().byIndex[index]
}

// FunctionByName looks up a built-in by its English name, ignoring case.
func FunctionByName(name string) *FunctionDef {
	return functions().byName[strings.ToUpper(name)]
}

// FunctionByIndex looks up a built-in by its BIFF index.
func FunctionByIndex(index int) *FunctionDef {
	return funcByIndex(index)
}

// FunctionNames lists the built-in names in sorted order.
func FunctionNames() []string {
	return append([]string(nil), functions().names...)
}

func funcNameOf(index uint16) string {
	if index == addInIndex {
		return "<add-in>"
	}
	if def := funcByIndex(int(index)); def != nil {
		return def.Name
	}
	return fmt.Sprintf("FUNC%d", index)
}

// Call is the view of the evaluator a function implementation gets.
type Call struct {
	Def *FunctionDef
	m   *machine
}

// Origin is the cell being evaluated.
func (c *Call) Origin() CellRef { return c.m.origin }

// Options are the evaluator's options with defaults applied.
func (c *Call) Options() *Options { return c.m.opts }
