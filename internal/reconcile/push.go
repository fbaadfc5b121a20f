// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/remote"
	"github.com/olegiv/postsync/internal/retry"
	"github.com/olegiv/postsync/internal/slug"
)

// ErrConflict marks an item whose target copy changed after the source.
var ErrConflict = errors.New("target modified more recently than source")

// push writes every stored post to tree and publishes the result.
func (r *runner) push(ctx context.Context, tree remote.Tree, target string) error {
	items, err := r.repo.ListAll(ctx)
	if err != nil {
		return errkind.New(errkind.Catastrophic, "snapshot content", err)
	}
	files, err := retry.Do(ctx, r.retryPolicy(target), tree.ListFiles)
	if err != nil {
		return errkind.New(errkind.Catastrophic, "list "+target+" files", err)
	}
	existing, err := r.repo.ListExistingSlugs(ctx)
	if err != nil {
		return errkind.New(errkind.Catastrophic, "snapshot slugs", err)
	}

	located := r.indexFiles(files)
	known := slug.NewSet(existing...)
	changed := 0

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		wrote, err := r.pushItem(ctx, tree, target, item, located, known)
		switch {
		case wrote:
			changed++
			r.run.Processed++
		case err == nil:
			r.run.Skipped++
		}
		if err != nil {
			r.fail(item.Slug, err)
		}
	}

	// A tree that stages writes may still hold changes from a run whose
	// publish failed; those go out with this run's commit.
	count := max(changed, staged(tree))
	if count == 0 {
		return nil
	}
	msg := fmt.Sprintf("Sync %d posts from blog database\n\nRun: %s", count, r.run.ID)
	if err := retry.Run(ctx, r.retryPolicy(target), func(ctx context.Context) error {
		return tree.CommitAndPush(ctx, msg)
	}); err != nil {
		r.run.Processed -= changed
		r.fail(target, errkind.New(errkind.Of(err), "publish "+target, err))
		return nil
	}
	r.logger.Info("published posts", "category", model.EventCategorySync,
		"run_id", r.run.ID, "target", target, "count", count)
	return nil
}

// stager is implemented by trees that stage writes until CommitAndPush.
type stager interface {
	Pending() int
}

func staged(tree remote.Tree) int {
	if s, ok := tree.(stager); ok {
		return s.Pending()
	}
	return 0
}

// pushItem writes one post. wrote is true when the file was written, even
// if removing a stale copy afterwards failed.
func (r *runner) pushItem(ctx context.Context, tree remote.Tree, target string, item model.ContentItem, located map[string][]string, known slug.Set) (wrote bool, err error) {
	if slug.IsLegacy(item.Slug, item.Title) {
		if item, err = r.regenerate(ctx, item, known); err != nil {
			return false, err
		}
	}
	if err := validate(item); err != nil {
		return false, err
	}

	p := remote.PostPath(r.root, item)
	if r.mode == model.ModeEnhanced {
		current, err := r.targetCurrent(ctx, tree, target, p, item)
		if err != nil || current {
			return false, err
		}
	}

	meta := toMetadata(item)
	if err := retry.Run(ctx, r.retryPolicy(p), func(ctx context.Context) error {
		return tree.WriteFile(ctx, p, meta, item.Body)
	}); err != nil {
		return false, err
	}

	// Copies under an alias or an old category are moved, not duplicated.
	for _, s := range item.KnownSlugs() {
		for _, old := range located[s] {
			if old == p {
				continue
			}
			if err := retry.Run(ctx, r.retryPolicy(old), func(ctx context.Context) error {
				return tree.DeleteFile(ctx, old)
			}); err != nil {
				return true, errkind.NewItem(errkind.Of(err), "remove stale copy", old, err)
			}
		}
	}
	return true, nil
}

// targetCurrent reports whether the file at p already holds item. It
// returns a conflict error when the file changed after the stored post.
func (r *runner) targetCurrent(ctx context.Context, tree remote.Tree, target, p string, item model.ContentItem) (bool, error) {
	text, err := retry.Do(ctx, r.retryPolicy(p), func(ctx context.Context) (string, error) {
		return tree.FetchContent(ctx, p)
	})
	if errors.Is(err, remote.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	want, err := render(item)
	if err != nil {
		return false, errkind.NewItem(errkind.Permanent, "render post", item.Slug, err)
	}
	if hashText(text) == hashText(want) {
		return true, nil
	}

	doc, err := frontmatter.Parse(text, r.now())
	if err != nil {
		return false, nil
	}
	theirs := lastModified(fromDocument(doc, item.Slug))
	if newerThan(theirs, lastModified(item)) {
		return false, errkind.NewItem(errkind.Permanent, "push to "+target, item.Slug,
			fmt.Errorf("%w (%s copy updated %s)", ErrConflict, target, theirs.Format(frontmatter.DateLayout)))
	}
	return false, nil
}

// regenerate replaces a legacy slug with a resolved one. The old slug
// stays reachable as an alias.
func (r *runner) regenerate(ctx context.Context, item model.ContentItem, known slug.Set) (model.ContentItem, error) {
	fresh := r.resolver.Resolve(item.Title, item.CreatedAt, known)
	if err := retry.Run(ctx, r.retryPolicy(item.Slug), func(ctx context.Context) error {
		return r.repo.AttachSlugAlias(ctx, item.Slug, fresh, true)
	}); err != nil {
		return item, err
	}
	known.Add(fresh)
	r.logger.Info("regenerated legacy slug", "category", model.EventCategorySync,
		"run_id", r.run.ID, "old", item.Slug, "new", fresh)

	aliases := make([]string, 0, len(item.Aliases)+1)
	aliases = append(aliases, item.Aliases...)
	item.Aliases = append(aliases, item.Slug)
	item.Slug = fresh
	return item, nil
}

// indexFiles maps the slug in each post file name to its paths.
func (r *runner) indexFiles(files []string) map[string][]string {
	located := make(map[string][]string)
	for _, f := range files {
		if !remote.IsPostFile(r.root, f) {
			continue
		}
		if _, s, ok := remote.ParsePostPath(f); ok {
			located[s] = append(located[s], f)
		}
	}
	return located
}
