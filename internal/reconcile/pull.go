// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/remote"
	"github.com/olegiv/postsync/internal/retry"
	"github.com/olegiv/postsync/internal/slug"
	"github.com/olegiv/postsync/internal/store"
)

type fetched struct {
	text string
	err  error
}

// pull reads every post file in tree and stores it in the database.
func (r *runner) pull(ctx context.Context, tree remote.Tree, target string) error {
	files, err := retry.Do(ctx, r.retryPolicy(target), tree.ListFiles)
	if err != nil {
		return errkind.New(errkind.Catastrophic, "list "+target+" files", err)
	}
	existing, err := r.repo.ListExistingSlugs(ctx)
	if err != nil {
		return errkind.New(errkind.Catastrophic, "snapshot slugs", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if remote.IsPostFile(r.root, f) {
			paths = append(paths, f)
		}
	}
	known := slug.NewSet(existing...)
	contents := r.fetchAll(ctx, tree, paths)

	stored := 0
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if contents[i].err != nil {
			r.fail(p, contents[i].err)
			continue
		}
		ok, err := r.pullItem(ctx, p, contents[i].text, known)
		switch {
		case err != nil:
			r.fail(p, err)
		case ok:
			stored++
			r.run.Processed++
		default:
			r.run.Skipped++
		}
	}

	if stored > 0 {
		n, err := r.repo.PruneUnusedTaxonomy(ctx)
		if err != nil {
			r.logger.Warn("failed to prune taxonomy", "run_id", r.run.ID, "error", err)
		} else if n > 0 {
			r.logger.Info("pruned unused taxonomy", "run_id", r.run.ID, "count", n)
		}
	}
	return nil
}

// fetchAll reads paths concurrently. Results keep the order of paths.
func (r *runner) fetchAll(ctx context.Context, tree remote.Tree, paths []string) []fetched {
	out := make([]fetched, len(paths))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, p := range paths {
		g.Go(func() error {
			text, err := retry.Do(ctx, r.retryPolicy(p), func(ctx context.Context) (string, error) {
				return tree.FetchContent(ctx, p)
			})
			out[i] = fetched{text: text, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// pullItem parses, repairs and stores one file. ok is false when the
// item was skipped because the database already holds the same content.
func (r *runner) pullItem(ctx context.Context, p, text string, known slug.Set) (ok bool, err error) {
	doc, err := frontmatter.Parse(text, r.now())
	if doc.Repaired() {
		notes := make([]string, 0, len(doc.Notes))
		for _, n := range doc.Notes {
			notes = append(notes, n.String())
		}
		r.logger.Info("repaired front matter", "run_id", r.run.ID, "path", p, "notes", notes)
	}
	if err != nil {
		return false, err
	}

	s, aliases, err := r.pulledSlug(ctx, p, doc, known)
	if err != nil {
		return false, err
	}
	item := fromDocument(doc, s)
	item.Aliases = aliases
	if err := validate(item); err != nil {
		return false, err
	}

	if r.mode == model.ModeEnhanced {
		current, err := r.storedCurrent(ctx, item)
		if err != nil || current {
			return false, err
		}
	}

	saved, err := retry.Do(ctx, r.retryPolicy(p), func(ctx context.Context) (model.ContentItem, error) {
		return r.repo.Upsert(ctx, item)
	})
	if err != nil {
		return false, err
	}
	known.Add(saved.Slug)
	return true, nil
}

// storedCurrent reports whether the database already holds item. It
// returns a conflict error when the stored post changed after the file.
func (r *runner) storedCurrent(ctx context.Context, item model.ContentItem) (bool, error) {
	current, err := r.repo.GetBySlug(ctx, item.Slug)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	theirs, err := contentHash(current)
	if err != nil {
		return false, err
	}
	ours, err := contentHash(item)
	if err != nil {
		return false, err
	}
	if theirs == ours {
		return true, nil
	}
	if newerThan(lastModified(current), lastModified(item)) {
		return false, errkind.NewItem(errkind.Permanent, "pull", item.Slug,
			fmt.Errorf("%w (database copy updated %s)", ErrConflict, lastModified(current).Format(frontmatter.DateLayout)))
	}
	return false, nil
}

// pulledSlug decides the canonical slug of a file. The explicit slug field
// wins, then the slug in the file name, then one derived from the title.
// Aliases resolve to their canonical slug. Legacy slugs are regenerated
// and returned as aliases of the new slug.
func (r *runner) pulledSlug(ctx context.Context, p string, doc frontmatter.Document, known slug.Set) (string, []string, error) {
	candidate := doc.Meta.Slug
	if candidate == "" {
		if _, s, ok := remote.ParsePostPath(p); ok && slug.IsValid(s) {
			candidate = s
		}
	}
	if candidate == "" {
		derived, err := r.derivedSlug(ctx, doc, known)
		if err != nil {
			return "", nil, err
		}
		candidate = derived
	}

	canonical, stored, err := r.repo.ResolveAlias(ctx, candidate)
	if err != nil {
		return "", nil, err
	}
	if stored && canonical != candidate {
		return canonical, nil, nil
	}
	if !slug.IsLegacy(candidate, doc.Meta.Title) {
		return candidate, nil, nil
	}

	fresh := r.resolver.Resolve(doc.Meta.Title, doc.Meta.Date, known)
	known.Add(fresh)
	r.logger.Info("regenerated legacy slug", "category", model.EventCategorySync,
		"run_id", r.run.ID, "old", candidate, "new", fresh)
	if stored {
		if err := retry.Run(ctx, r.retryPolicy(candidate), func(ctx context.Context) error {
			return r.repo.AttachSlugAlias(ctx, candidate, fresh, true)
		}); err != nil {
			return "", nil, err
		}
		return fresh, nil, nil
	}
	return fresh, []string{candidate}, nil
}

// maxDerivedMatches bounds the walk over title-derived candidates that
// are already taken.
const maxDerivedMatches = 8

// derivedSlug picks a slug for a file that names none. Candidates are
// walked in resolution order: a taken candidate is reused only when it
// holds the same post, so a re-pull updates in place while distinct
// posts sharing a title get distinct slugs.
func (r *runner) derivedSlug(ctx context.Context, doc frontmatter.Document, known slug.Set) (string, error) {
	tried := slug.NewSet()
	for range maxDerivedMatches {
		c := r.resolver.Resolve(doc.Meta.Title, doc.Meta.Date, tried)
		if !known.Has(c) {
			known.Add(c)
			return c, nil
		}
		same, err := r.holdsSamePost(ctx, c, doc)
		if err != nil {
			return "", err
		}
		if same {
			return c, nil
		}
		tried.Add(c)
	}
	c := r.resolver.Resolve(doc.Meta.Title, doc.Meta.Date, known)
	known.Add(c)
	return c, nil
}

// holdsSamePost reports whether the post stored at s has the title and
// creation day of doc. A date filled in during repair carries no
// identity, so only the title is compared then.
func (r *runner) holdsSamePost(ctx context.Context, s string, doc frontmatter.Document) (bool, error) {
	stored, err := r.repo.GetBySlug(ctx, s)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.Title != doc.Meta.Title {
		return false, nil
	}
	if dateRepaired(doc) {
		return true, nil
	}
	return stored.CreatedAt.UTC().Format(time.DateOnly) == doc.Meta.Date.UTC().Format(time.DateOnly), nil
}

func dateRepaired(doc frontmatter.Document) bool {
	for _, n := range doc.Notes {
		if n.Field == "date" {
			return true
		}
	}
	return false
}
