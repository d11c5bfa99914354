// Package navtree assembles the flat nav_sections and nav_items rows of a doc
// into the nested tree served to editors and rendered on the public site.
package navtree

import (
	"errors"
	"sort"
	"time"

	"helppages/api/internal/store"
)

// MaxDepth is the deepest nesting allowed for sections and for items.
const MaxDepth = 4

var (
	ErrCycle    = errors.New("navtree: node would become its own ancestor")
	ErrTooDeep  = errors.New("navtree: nesting too deep")
	ErrNotFound = errors.New("navtree: node not found")
)

type Item struct {
	ID        string  `json:"id"`
	SectionID *string `json:"sectionId"`
	ParentID  *string `json:"parentId"`
	Kind      string  `json:"kind"`
	Label     string  `json:"label"`
	PageID    *string `json:"pageId"`
	URL       string  `json:"url,omitempty"`
	Position  int     `json:"position"`
	Children  []*Item `json:"children"`

	createdAt time.Time
}

type Section struct {
	ID       string     `json:"id"`
	ParentID *string    `json:"parentId"`
	Title    string     `json:"title"`
	Position int        `json:"position"`
	Items    []*Item    `json:"items"`
	Children []*Section `json:"children"`

	createdAt time.Time
}

// Tree is the nav of one doc. Items holds root-level items that belong to no
// section.
type Tree struct {
	Sections []*Section `json:"sections"`
	Items    []*Item    `json:"items"`
}

// Build nests sections under their parents and items under their parent item
// or section. Rows pointing at a missing parent are promoted to the root.
// Siblings are ordered by position, then creation time.
func Build(sections []store.NavSection, items []store.NavItem) Tree {
	tree := Tree{Sections: []*Section{}, Items: []*Item{}}

	secByID := make(map[string]*Section, len(sections))
	for _, s := range sections {
		secByID[s.ID] = &Section{
			ID: s.ID, ParentID: s.ParentID, Title: s.Title, Position: s.Position,
			Items: []*Item{}, Children: []*Section{}, createdAt: s.CreatedAt,
		}
	}
	for _, s := range sections {
		node := secByID[s.ID]
		if s.ParentID != nil {
			if parent, ok := secByID[*s.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		tree.Sections = append(tree.Sections, node)
	}

	itemByID := make(map[string]*Item, len(items))
	for _, it := range items {
		itemByID[it.ID] = &Item{
			ID: it.ID, SectionID: it.SectionID, ParentID: it.ParentID, Kind: it.Kind,
			Label: it.Label, PageID: it.PageID, URL: it.URL, Position: it.Position,
			Children: []*Item{}, createdAt: it.CreatedAt,
		}
	}
	for _, it := range items {
		node := itemByID[it.ID]
		if it.ParentID != nil {
			if parent, ok := itemByID[*it.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		if it.SectionID != nil {
			if sec, ok := secByID[*it.SectionID]; ok {
				sec.Items = append(sec.Items, node)
				continue
			}
		}
		tree.Items = append(tree.Items, node)
	}

	sortSections(tree.Sections)
	sortItems(tree.Items)
	return tree
}

func sortSections(list []*Section) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Position != list[j].Position {
			return list[i].Position < list[j].Position
		}
		return list[i].createdAt.Before(list[j].createdAt)
	})
	for _, s := range list {
		sortSections(s.Children)
		sortItems(s.Items)
	}
}

func sortItems(list []*Item) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Position != list[j].Position {
			return list[i].Position < list[j].Position
		}
		return list[i].createdAt.Before(list[j].createdAt)
	})
	for _, it := range list {
		sortItems(it.Children)
	}
}

// Filter returns a copy of the tree keeping only items for which keep
// returns true. Children of a dropped item are dropped with it. Sections
// left without items or child sections are removed.
func Filter(tree Tree, keep func(*Item) bool) Tree {
	out := Tree{Sections: filterSections(tree.Sections, keep), Items: filterItems(tree.Items, keep)}
	return out
}

func filterItems(list []*Item, keep func(*Item) bool) []*Item {
	out := make([]*Item, 0, len(list))
	for _, it := range list {
		if !keep(it) {
			continue
		}
		cp := *it
		cp.Children = filterItems(it.Children, keep)
		out = append(out, &cp)
	}
	return out
}

func filterSections(list []*Section, keep func(*Item) bool) []*Section {
	out := make([]*Section, 0, len(list))
	for _, s := range list {
		cp := *s
		cp.Items = filterItems(s.Items, keep)
		cp.Children = filterSections(s.Children, keep)
		if len(cp.Items) == 0 && len(cp.Children) == 0 {
			continue
		}
		out = append(out, &cp)
	}
	return out
}

// PageOrder lists page ids in reading order: root items first, then each
// section depth first. A page is listed once.
func PageOrder(tree Tree) []string {
	seen := map[string]bool{}
	order := []string{}
	var visitItems func([]*Item)
	visitItems = func(list []*Item) {
		for _, it := range list {
			if it.Kind == store.NavItemPage && it.PageID != nil && !seen[*it.PageID] {
				seen[*it.PageID] = true
				order = append(order, *it.PageID)
			}
			visitItems(it.Children)
		}
	}
	var visitSections func([]*Section)
	visitSections = func(list []*Section) {
		for _, s := range list {
			visitItems(s.Items)
			visitSections(s.Children)
		}
	}
	visitItems(tree.Items)
	visitSections(tree.Sections)
	return order
}

// Parents maps node id to parent id for cycle and depth checks.
type Parents map[string]*string

func SectionParents(sections []store.NavSection) Parents {
	p := make(Parents, len(sections))
	for _, s := range sections {
		p[s.ID] = s.ParentID
	}
	return p
}

func ItemParents(items []store.NavItem) Parents {
	p := make(Parents, len(items))
	for _, it := range items {
		p[it.ID] = it.ParentID
	}
	return p
}

// CheckMove validates re-parenting id under parent. A nil parent moves the
// node to the root. id may be absent from p for a node being created.
func (p Parents) CheckMove(id string, parent *string) error {
	if parent == nil {
		return p.checkHeight(id, 1)
	}
	if _, ok := p[*parent]; !ok {
		return ErrNotFound
	}
	depth := 1
	for cur := parent; cur != nil; cur = p[*cur] {
		if *cur == id {
			return ErrCycle
		}
		depth++
		if depth > len(p)+1 {
			return ErrCycle
		}
	}
	return p.checkHeight(id, depth)
}

// Apply records a move so later checks in the same batch see it.
func (p Parents) Apply(id string, parent *string) {
	p[id] = parent
}

// Descendants returns every node below id, parents before children.
func (p Parents) Descendants(id string) []string {
	children := map[string][]string{}
	for child, parent := range p {
		if parent != nil {
			children[*parent] = append(children[*parent], child)
		}
	}
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		next := children[node]
		sort.Strings(next)
		for _, c := range next {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// checkHeight fails when the subtree rooted at id, placed at depth, would
// extend past MaxDepth.
func (p Parents) checkHeight(id string, depth int) error {
	if depth+p.height(id)-1 > MaxDepth {
		return ErrTooDeep
	}
	return nil
}

func (p Parents) height(id string) int {
	children := map[string][]string{}
	for child, parent := range p {
		if parent != nil {
			children[*parent] = append(children[*parent], child)
		}
	}
	var walk func(string, int) int
	walk = func(node string, guard int) int {
		if guard > len(p) {
			return guard
		}
		best := 1
		for _, c := range children[node] {
			if h := 1 + walk(c, guard+1); h > best {
				best = h
			}
		}
		return best
	}
	return walk(id, 0)
}
