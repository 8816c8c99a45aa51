// Package resolve turns extracted declarations into the entity model. It
// runs one pass per architecture, each consulting that architecture's
// oracle table, and reconciles the passes into a single model.
package resolve

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/dejo1307/bridgemeta/internal/decl"
	"github.com/dejo1307/bridgemeta/internal/extract"
	"github.com/dejo1307/bridgemeta/internal/model"
	"github.com/dejo1307/bridgemeta/internal/oracle"
	"github.com/dejo1307/bridgemeta/internal/overrides"
)

// Error reports a type, struct or method signature the oracle table has no
// answer for.
type Error struct {
	Arch  string
	What  string // "type", "struct", "method type"
	Name  string
	Where string
}

func (e *Error) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("resolve %s: no %s corresponding to %q", e.Arch, e.What, e.Name)
	}
	return fmt.Sprintf("resolve %s: no %s corresponding to %q in %s", e.Arch, e.What, e.Name, e.Where)
}

// Input is what every architecture pass shares.
type Input struct {
	Directives *overrides.Directives
	Runtime    *oracle.Runtime
	// DependencyCFTypes are CF type names owned by dependency frameworks.
	DependencyCFTypes []string
	// DependsOn lists the dependency metadata files, recorded in the model.
	DependsOn []string
}

// Arch is one architecture pass: its oracle table and the headers as
// preprocessed for it.
type Arch struct {
	Table   *oracle.Table
	Results []*extract.Result
}

// Resolve runs one pass per architecture concurrently and reconciles the
// results. At most one 32-bit and one 64-bit pass may be given.
func Resolve(ctx context.Context, in *Input, archs ...Arch) (*model.Model, error) {
	if len(archs) == 0 {
		return nil, fmt.Errorf("resolve: no architecture to resolve for")
	}
	var slot32, slot64 *Arch
	for i := range archs {
		a := &archs[i]
		if a.Table == nil {
			return nil, fmt.Errorf("resolve: architecture %d has no oracle table", i)
		}
		slot := &slot32
		if a.Table.Is64() {
			slot = &slot64
		}
		if *slot != nil {
			return nil, fmt.Errorf("resolve: %s and %s are both %s", (*slot).Table.Arch, a.Table.Arch, width(a.Table))
		}
		*slot = a
	}
	shared := *in
	if shared.Directives == nil {
		shared.Directives = overrides.NewDirectives()
	}
	if shared.Runtime == nil {
		shared.Runtime, _ = oracle.LoadRuntime("")
	}

	// Function pointer signatures are the same text in both passes.
	cache := decl.NewFuncPointerCache()
	var m32, m64 *model.Model
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range []struct {
		arch *Arch
		out  **model.Model
	}{{slot32, &m32}, {slot64, &m64}} {
		if job.arch == nil {
			continue
		}
		g.Go(func() error {
			m, err := newPass(&shared, job.arch, cache).run(gctx)
			if err != nil {
				return err
			}
			*job.out = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := model.Reconcile(m32, m64)
	log.Printf("[resolve] reconciled %d structs, %d enums, %d functions, %d classes (%d function pointer signatures)",
		len(m.Structs), len(m.Enums), len(m.Functions), len(m.Classes), cache.Len())
	return m, nil
}

func width(t *oracle.Table) string {
	if t.Is64() {
		return "64-bit"
	}
	return "32-bit"
}
