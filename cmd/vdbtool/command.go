package main

import (
	"strconv"
	"strings"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// Command is a command line split into its name, positional arguments and
// "key=value" settings.
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 && elems[0] == key {
				return elems[1], true
			}
		}
	}
	return
}

// CommandArgs sets a variadic argument set of string pointers to the
// positional arguments after the command name, ignoring settings of the form
// "<key>=<value>".  Targets beyond the given arguments are set to the empty
// string.  It returns the positional arguments left over.
func (cmd Command) CommandArgs(targets ...*string) (overflow []string) {
	for _, target := range targets {
		*target = ""
	}
	cur := 0
	for _, arg := range cmd[1:] {
		if strings.Contains(arg, "=") {
			continue
		}
		if cur < len(targets) {
			*targets[cur] = arg
			cur++
		} else {
			overflow = append(overflow, arg)
		}
	}
	return
}

// IntParameter returns the integer setting for key or def if absent.
func (cmd Command) IntParameter(key string, def int) (int, error) {
	s, found := cmd.Parameter(key)
	if !found {
		return def, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def, vdb.WrapError(vdb.ValueError, err, "bad %s setting %q", key, s)
	}
	return i, nil
}

// FloatParameter returns the float setting for key or def if absent.
func (cmd Command) FloatParameter(key string, def float64) (float64, error) {
	s, found := cmd.Parameter(key)
	if !found {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def, vdb.WrapError(vdb.ValueError, err, "bad %s setting %q", key, s)
	}
	return f, nil
}

// CoordParameter parses a setting of the form "x,y,z".
func (cmd Command) CoordParameter(key string, def tree.Coord) (tree.Coord, error) {
	s, found := cmd.Parameter(key)
	if !found {
		return def, nil
	}
	v, err := parseInts(s, 3)
	if err != nil {
		return def, vdb.WrapError(vdb.ValueError, err, "bad %s setting %q", key, s)
	}
	return tree.NewCoord(v[0], v[1], v[2]), nil
}

// BBoxParameter parses a setting of the form "x0,y0,z0,x1,y1,z1" with both
// corners inclusive.
func (cmd Command) BBoxParameter(key string, def tree.CoordBBox) (tree.CoordBBox, error) {
	s, found := cmd.Parameter(key)
	if !found {
		return def, nil
	}
	v, err := parseInts(s, 6)
	if err != nil {
		return def, vdb.WrapError(vdb.ValueError, err, "bad %s setting %q", key, s)
	}
	return tree.NewBBox(tree.NewCoord(v[0], v[1], v[2]), tree.NewCoord(v[3], v[4], v[5])), nil
}

func parseInts(s string, n int) ([]int32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, vdb.NewError(vdb.ValueError, "expected %d comma-separated integers, got %d", n, len(parts))
	}
	v := make([]int32, n)
	for i, p := range parts {
		x, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		v[i] = int32(x)
	}
	return v, nil
}
