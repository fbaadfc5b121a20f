// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/slug"
)

// ErrNotFound is returned when no post matches a slug.
var ErrNotFound = errors.New("content item not found")

// ErrSlugTaken is returned when a slug already belongs to another post.
var ErrSlugTaken = errors.New("slug belongs to another post")

// ContentRepository reads and writes posts with their taxonomy and slug
// history. Every write runs in a single transaction.
type ContentRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// NewContentRepository creates a ContentRepository over db.
func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{
		db:      db,
		queries: New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListAll returns every post with categories, tags and aliases attached,
// oldest first.
func (r *ContentRepository) ListAll(ctx context.Context) ([]model.ContentItem, error) {
	posts, err := r.queries.ListPosts(ctx)
	if err != nil {
		return nil, classify("list posts", "", err)
	}
	cats, err := r.queries.ListPostCategories(ctx)
	if err != nil {
		return nil, classify("list post categories", "", err)
	}
	tags, err := r.queries.ListPostTags(ctx)
	if err != nil {
		return nil, classify("list post tags", "", err)
	}
	mappings, err := r.queries.ListSlugMappings(ctx)
	if err != nil {
		return nil, classify("list slug mappings", "", err)
	}

	catsByPost := groupTerms(cats)
	tagsByPost := groupTerms(tags)
	aliasesByPost := make(map[int64][]string)
	for _, m := range mappings {
		if !m.IsPrimary {
			aliasesByPost[m.PostID] = append(aliasesByPost[m.PostID], m.Slug)
		}
	}

	items := make([]model.ContentItem, 0, len(posts))
	for _, p := range posts {
		items = append(items, toContentItem(p, catsByPost[p.ID], tagsByPost[p.ID], aliasesByPost[p.ID]))
	}
	return items, nil
}

// GetBySlug returns the post whose canonical slug is s. It returns an error
// wrapping ErrNotFound, tagged permanent, when there is none.
func (r *ContentRepository) GetBySlug(ctx context.Context, s string) (model.ContentItem, error) {
	return r.getBySlug(ctx, r.queries, s)
}

func (r *ContentRepository) getBySlug(ctx context.Context, q *Queries, s string) (model.ContentItem, error) {
	p, err := q.GetPostBySlug(ctx, s)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentItem{}, errkind.NewItem(errkind.Permanent, "get post", s, ErrNotFound)
	}
	if err != nil {
		return model.ContentItem{}, classify("get post", s, err)
	}
	return r.load(ctx, q, p)
}

func (r *ContentRepository) load(ctx context.Context, q *Queries, p Post) (model.ContentItem, error) {
	cats, err := q.ListCategoriesForPost(ctx, p.ID)
	if err != nil {
		return model.ContentItem{}, classify("list post categories", p.Slug, err)
	}
	tags, err := q.ListTagsForPost(ctx, p.ID)
	if err != nil {
		return model.ContentItem{}, classify("list post tags", p.Slug, err)
	}
	mappings, err := q.ListSlugMappingsForPost(ctx, p.ID)
	if err != nil {
		return model.ContentItem{}, classify("list slug mappings", p.Slug, err)
	}
	var aliases []string
	for _, m := range mappings {
		if !m.IsPrimary {
			aliases = append(aliases, m.Slug)
		}
	}
	return toContentItem(p, cats, tags, aliases), nil
}

// ListExistingSlugs returns every slug in use, canonical or alias.
func (r *ContentRepository) ListExistingSlugs(ctx context.Context) ([]string, error) {
	slugs, err := r.queries.ListAllSlugs(ctx)
	if err != nil {
		return nil, classify("list slugs", "", err)
	}
	return slugs, nil
}

// ResolveAlias returns the canonical slug for s, which may itself be
// canonical. ok is false when s is unknown.
func (r *ContentRepository) ResolveAlias(ctx context.Context, s string) (canonical string, ok bool, err error) {
	m, err := r.queries.GetSlugMapping(ctx, s)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.queries.GetPostBySlug(ctx, s); err == nil {
			return s, true, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return "", false, classify("resolve slug", s, err)
		}
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("resolve slug", s, err)
	}
	p, err := r.queries.GetPostByID(ctx, m.PostID)
	if err != nil {
		return "", false, classify("resolve slug", s, err)
	}
	return p.Slug, true, nil
}

// Upsert creates or updates the post identified by item.Slug. Category and
// tag links are replaced, missing terms are created, aliases are attached
// and post counts are recomputed, all in one transaction. A unique violation
// on insert is treated as a concurrent create and retried once as an update.
func (r *ContentRepository) Upsert(ctx context.Context, item model.ContentItem) (model.ContentItem, error) {
	if err := validateItem(item); err != nil {
		return model.ContentItem{}, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		saved, err := r.upsertTx(ctx, item)
		if err == nil {
			return saved, nil
		}
		if !isUniqueViolation(err) {
			return model.ContentItem{}, classify("upsert post", item.Slug, err)
		}
		lastErr = err
	}
	return model.ContentItem{}, classify("upsert post", item.Slug, lastErr)
}

func (r *ContentRepository) upsertTx(ctx context.Context, item model.ContentItem) (model.ContentItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := r.queries.WithTx(tx)
	now := r.now()

	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := item.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	existing, err := q.GetPostBySlug(ctx, item.Slug)
	var postID int64
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if owner, err := q.GetSlugMapping(ctx, item.Slug); err == nil {
			return model.ContentItem{}, errkind.NewItem(errkind.Permanent, "upsert post", item.Slug,
				fmt.Errorf("%w (post %d)", ErrSlugTaken, owner.PostID))
		} else if !errors.Is(err, sql.ErrNoRows) {
			return model.ContentItem{}, err
		}

		p, err := q.CreatePost(ctx, CreatePostParams{
			Slug:        item.Slug,
			Title:       item.Title,
			Body:        item.Body,
			Description: item.Description,
			CoverImage:  item.CoverImage,
			Published:   item.Published,
			Featured:    item.Featured,
			CreatedAt:   created.UTC(),
			UpdatedAt:   updated.UTC(),
		})
		if err != nil {
			return model.ContentItem{}, err
		}
		postID = p.ID
		if err := q.CreateSlugMapping(ctx, CreateSlugMappingParams{
			Slug: item.Slug, PostID: postID, IsPrimary: true, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return model.ContentItem{}, err
		}
	case err != nil:
		return model.ContentItem{}, err
	default:
		postID = existing.ID
		if err := q.UpdatePost(ctx, UpdatePostParams{
			Title:       item.Title,
			Body:        item.Body,
			Description: item.Description,
			CoverImage:  item.CoverImage,
			Published:   item.Published,
			Featured:    item.Featured,
			CreatedAt:   created.UTC(),
			UpdatedAt:   updated.UTC(),
			ID:          postID,
		}); err != nil {
			return model.ContentItem{}, err
		}
		if err := ensurePrimary(ctx, q, item.Slug, postID, now); err != nil {
			return model.ContentItem{}, err
		}
	}

	if err := replaceTerms(ctx, q, postID, item, now); err != nil {
		return model.ContentItem{}, err
	}

	for _, alias := range item.Aliases {
		if alias == "" || alias == item.Slug {
			continue
		}
		if err := attachAlias(ctx, q, postID, alias, now); err != nil {
			return model.ContentItem{}, err
		}
	}

	if err := q.RecountCategories(ctx); err != nil {
		return model.ContentItem{}, fmt.Errorf("recounting categories: %w", err)
	}
	if err := q.RecountTags(ctx); err != nil {
		return model.ContentItem{}, fmt.Errorf("recounting tags: %w", err)
	}

	saved, err := r.getBySlug(ctx, q, item.Slug)
	if err != nil {
		return model.ContentItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ContentItem{}, fmt.Errorf("committing transaction: %w", err)
	}
	return saved, nil
}

// AttachSlugAlias records s as a slug of the post whose canonical slug is
// canonical. A non-primary slug becomes an alias; attaching it twice is a
// no-op. A primary slug becomes the post's canonical slug and canonical is
// kept as an alias, as with RenameSlug.
func (r *ContentRepository) AttachSlugAlias(ctx context.Context, canonical, s string, isPrimary bool) error {
	if isPrimary && s != canonical {
		return r.RenameSlug(ctx, canonical, s)
	}
	if !isPrimary && s == canonical {
		return errkind.NewItem(errkind.Permanent, "attach alias", s, ErrSlugTaken)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("attach alias", s, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := r.queries.WithTx(tx)
	p, err := q.GetPostBySlug(ctx, canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return errkind.NewItem(errkind.Permanent, "attach alias", canonical, ErrNotFound)
	}
	if err != nil {
		return classify("attach alias", canonical, err)
	}

	now := r.now()
	if isPrimary {
		err = ensurePrimary(ctx, q, s, p.ID, now)
	} else {
		err = attachAlias(ctx, q, p.ID, s, now)
	}
	if err != nil {
		return classify("attach alias", s, err)
	}
	return classify("attach alias", s, tx.Commit())
}

// RenameSlug moves the canonical slug of the post currently at oldSlug to
// newSlug. The old slug stays as a non-primary alias.
func (r *ContentRepository) RenameSlug(ctx context.Context, oldSlug, newSlug string) error {
	if !slug.IsValid(newSlug) {
		return errkind.NewItem(errkind.Permanent, "rename slug", newSlug, fmt.Errorf("invalid slug %q", newSlug))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("rename slug", oldSlug, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := r.queries.WithTx(tx)
	now := r.now()

	p, err := q.GetPostBySlug(ctx, oldSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return errkind.NewItem(errkind.Permanent, "rename slug", oldSlug, ErrNotFound)
	}
	if err != nil {
		return classify("rename slug", oldSlug, err)
	}

	if m, err := q.GetSlugMapping(ctx, newSlug); err == nil && m.PostID != p.ID {
		return errkind.NewItem(errkind.Permanent, "rename slug", newSlug, ErrSlugTaken)
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return classify("rename slug", newSlug, err)
	}
	if _, err := q.GetPostBySlug(ctx, newSlug); err == nil {
		return errkind.NewItem(errkind.Permanent, "rename slug", newSlug, ErrSlugTaken)
	}

	if err := q.DemotePrimarySlugs(ctx, p.ID, now); err != nil {
		return classify("rename slug", oldSlug, err)
	}
	if err := attachAlias(ctx, q, p.ID, oldSlug, now); err != nil {
		return classify("rename slug", oldSlug, err)
	}
	if err := q.UpdatePostSlug(ctx, newSlug, p.UpdatedAt, p.ID); err != nil {
		return classify("rename slug", newSlug, err)
	}
	if err := ensurePrimary(ctx, q, newSlug, p.ID, now); err != nil {
		return classify("rename slug", newSlug, err)
	}
	return classify("rename slug", newSlug, tx.Commit())
}

// PruneUnusedTaxonomy deletes categories and tags that no post references.
func (r *ContentRepository) PruneUnusedTaxonomy(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := r.queries.WithTx(tx)
	if err := q.RecountCategories(ctx); err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	if err := q.RecountTags(ctx); err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	cats, err := q.DeleteUnusedCategories(ctx)
	if err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	tags, err := q.DeleteUnusedTags(ctx)
	if err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("prune taxonomy", "", err)
	}
	return cats + tags, nil
}

// CountUpdatedSince returns the number of posts changed after since.
func (r *ContentRepository) CountUpdatedSince(ctx context.Context, since time.Time) (int64, error) {
	if since.IsZero() {
		n, err := r.queries.CountPosts(ctx)
		return n, classify("count posts", "", err)
	}
	n, err := r.queries.CountPostsUpdatedSince(ctx, since.UTC())
	return n, classify("count posts", "", err)
}

func validateItem(item model.ContentItem) error {
	switch {
	case strings.TrimSpace(item.Title) == "":
		return errkind.NewItem(errkind.Permanent, "validate post", item.Slug, errors.New("title is required"))
	case !slug.IsValid(item.Slug):
		return errkind.NewItem(errkind.Permanent, "validate post", item.Slug, fmt.Errorf("invalid slug %q", item.Slug))
	}
	return nil
}

// ensurePrimary makes s the single primary slug mapping of postID.
func ensurePrimary(ctx context.Context, q *Queries, s string, postID int64, now time.Time) error {
	m, err := q.GetSlugMapping(ctx, s)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := q.DemotePrimarySlugs(ctx, postID, now); err != nil {
			return err
		}
		return q.CreateSlugMapping(ctx, CreateSlugMappingParams{
			Slug: s, PostID: postID, IsPrimary: true, CreatedAt: now, UpdatedAt: now,
		})
	case err != nil:
		return err
	case m.PostID != postID:
		return errkind.NewItem(errkind.Permanent, "set primary slug", s, ErrSlugTaken)
	case m.IsPrimary:
		return nil
	}
	if err := q.DemotePrimarySlugs(ctx, postID, now); err != nil {
		return err
	}
	return q.SetSlugPrimary(ctx, s, true, now)
}

// attachAlias records alias as a non-primary mapping of postID.
func attachAlias(ctx context.Context, q *Queries, postID int64, alias string, now time.Time) error {
	m, err := q.GetSlugMapping(ctx, alias)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return q.CreateSlugMapping(ctx, CreateSlugMappingParams{
			Slug: alias, PostID: postID, IsPrimary: false, CreatedAt: now, UpdatedAt: now,
		})
	case err != nil:
		return err
	case m.PostID != postID:
		return errkind.NewItem(errkind.Permanent, "attach alias", alias, ErrSlugTaken)
	case m.IsPrimary:
		return q.SetSlugPrimary(ctx, alias, false, now)
	}
	return nil
}

func replaceTerms(ctx context.Context, q *Queries, postID int64, item model.ContentItem, now time.Time) error {
	if err := q.DeletePostCategories(ctx, postID); err != nil {
		return fmt.Errorf("clearing categories: %w", err)
	}
	for i, term := range item.Categories {
		id, err := getOrCreateCategory(ctx, q, term, now)
		if err != nil {
			return err
		}
		if id == 0 {
			continue
		}
		if err := q.AddPostCategory(ctx, postID, id, int64(i)); err != nil {
			return fmt.Errorf("linking category: %w", err)
		}
	}

	if err := q.DeletePostTags(ctx, postID); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}
	for i, term := range item.Tags {
		id, err := getOrCreateTag(ctx, q, term, now)
		if err != nil {
			return err
		}
		if id == 0 {
			continue
		}
		if err := q.AddPostTag(ctx, postID, id, int64(i)); err != nil {
			return fmt.Errorf("linking tag: %w", err)
		}
	}
	return nil
}

// termKey returns the name and slug a term should be stored under. It
// returns an empty slug when the term has no usable characters.
func termKey(term model.Term) (name, s string) {
	name = strings.TrimSpace(term.Name)
	s = term.Slug
	if s == "" || !slug.IsValid(s) {
		s = slug.Slugify(term.Label())
	}
	if name == "" {
		name = s
	}
	return name, s
}

func getOrCreateCategory(ctx context.Context, q *Queries, term model.Term, now time.Time) (int64, error) {
	name, s := termKey(term)
	if s == "" {
		return 0, nil
	}
	if c, err := q.GetCategoryBySlug(ctx, s); err == nil {
		return c.ID, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("finding category %q: %w", s, err)
	}
	if c, err := q.GetCategoryByName(ctx, name); err == nil {
		return c.ID, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("finding category %q: %w", name, err)
	}
	c, err := q.CreateCategory(ctx, name, s, now)
	if err != nil {
		return 0, fmt.Errorf("creating category %q: %w", name, err)
	}
	return c.ID, nil
}

func getOrCreateTag(ctx context.Context, q *Queries, term model.Term, now time.Time) (int64, error) {
	name, s := termKey(term)
	if s == "" {
		return 0, nil
	}
	if t, err := q.GetTagBySlug(ctx, s); err == nil {
		return t.ID, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("finding tag %q: %w", s, err)
	}
	if t, err := q.GetTagByName(ctx, name); err == nil {
		return t.ID, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("finding tag %q: %w", name, err)
	}
	t, err := q.CreateTag(ctx, name, s, now)
	if err != nil {
		return 0, fmt.Errorf("creating tag %q: %w", name, err)
	}
	return t.ID, nil
}

func groupTerms(rows []PostTerm) map[int64][]PostTerm {
	out := make(map[int64][]PostTerm)
	for _, r := range rows {
		out[r.PostID] = append(out[r.PostID], r)
	}
	return out
}

func toContentItem(p Post, cats, tags []PostTerm, aliases []string) model.ContentItem {
	item := model.ContentItem{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Body:        p.Body,
		Description: p.Description,
		CoverImage:  p.CoverImage,
		Published:   p.Published,
		Featured:    p.Featured,
		Categories:  make([]model.Term, 0, len(cats)),
		Tags:        make([]model.Term, 0, len(tags)),
		Aliases:     aliases,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
	for _, c := range cats {
		item.Categories = append(item.Categories, model.Term{Name: c.Name, Slug: c.Slug})
	}
	for _, t := range tags {
		item.Tags = append(item.Tags, model.Term{Name: t.Name, Slug: t.Slug})
	}
	return item
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// classify tags a database error. Errors already tagged keep their kind;
// busy or locked databases are transient, constraint failures permanent.
func classify(op, item string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *errkind.Error
	if errors.As(err, &tagged) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return errkind.NewItem(errkind.Transient, op, item, err)
	case strings.Contains(msg, "constraint failed"):
		return errkind.NewItem(errkind.Permanent, op, item, err)
	case errors.Is(err, context.Canceled):
		return errkind.NewItem(errkind.Permanent, op, item, err)
	}
	return errkind.NewItem(errkind.Of(err), op, item, err)
}
