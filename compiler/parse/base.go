package parse

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

type (
	None struct{}

	Optional struct {
		Parser
	}

	Context struct {
		Pre  Parser
		Of   Parser
		Post Parser
	}

	AllOf []Parser

	AnyOf []Parser

	// SepBy parses zero or more Of separated by Sep.
	SepBy struct {
		Of  Parser
		Sep Parser
	}

	// Many parses Of until it fails without consuming input.
	Many struct {
		Of Parser
	}
)

func (None) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	return None{}, st, nil
}

func (p Optional) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = p.Parser.Parse(ctx, b, st)
	if i == st {
		return None{}, st, nil
	}

	return
}

func (p Context) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if p.Pre != nil {
		_, i, err = p.Pre.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "pre")
		}
	}

	vst := i

	x, i, err = p.Of.Parse(ctx, b, i)
	if err != nil {
		if i == vst {
			i = st
		}

		return nil, i, errors.Wrap(err, "of")
	}

	if p.Post != nil {
		_, i, err = p.Post.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "post")
		}
	}

	return x, i, nil
}

func (p AllOf) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	res := make([]Node, len(p))

	for j, r := range p {
		x, i, err = r.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "%T (%d)", r, j)
		}

		res[j] = x
	}

	return res, i, nil
}

func (p AnyOf) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	for _, r := range p {
		x, j, e := r.Parse(ctx, b, st)
		if e == nil {
			return x, j, nil
		}
		if j == st {
			continue
		}
		if err == nil {
			i = j
			err = errors.Wrap(e, "%T", r)
		}
	}

	if err != nil {
		return
	}

	return nil, st, errors.New("expected %v", joinHuman(p...))
}

func (p SepBy) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	var res []Node

	i = st

	for {
		var x Node
		vst := i

		x, i, err = p.Of.Parse(ctx, b, i)
		if err != nil {
			if i == vst && len(res) == 0 {
				return res, st, nil
			}

			return nil, i, errors.Wrap(err, "elem %d", len(res))
		}

		res = append(res, x)

		sst := i

		_, i, err = p.Sep.Parse(ctx, b, i)
		if err != nil {
			if i == sst {
				return res, i, nil
			}

			return nil, i, errors.Wrap(err, "separator")
		}
	}
}

func (p Many) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	var res []Node

	i = st

	for {
		var x Node
		vst := i

		x, i, err = p.Of.Parse(ctx, b, i)
		if err != nil {
			if i == vst {
				return res, i, nil
			}

			return nil, i, err
		}

		res = append(res, x)
	}
}

func joinHuman(l ...Parser) string {
	switch len(l) {
	case 0:
		return "<none>"
	case 1:
		return fmt.Sprintf("%T", l[0])
	}

	var b strings.Builder

	for i, r := range l {
		if i+1 == len(l) {
			b.WriteString(" or ")
		} else if i != 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%T", r)
	}

	return b.String()
}
