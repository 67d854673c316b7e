package activity

import (
	"fmt"
	"sort"
)

type kindMeta struct {
	groupKind string
	verb      string
	nounOne   string
	nounFew   string
	nounMany  string
	hasName   bool
}

// kindTable is the verb/noun table the title builder and summary grouper
// consult; grounded on the Russian phrases the original aggregator emits.
var kindTable = map[string]kindMeta{
	"element.created":        {"elements_created", "создал(а)", "элемент", "элемента", "элементов", true},
	"element.updated":        {"elements_updated", "изменил(а)", "элемент", "элемента", "элементов", true},
	"folder.created":         {"folders_created", "создал(а)", "папку", "папки", "папок", true},
	"folder.updated":         {"folders_updated", "изменил(а)", "папку", "папки", "папок", true},
	"announcement.created":   {"announcements_created", "создал(а)", "объявление", "объявления", "объявлений", true},
	"imagemap.created":       {"widgets_created", "создал(а)", "виджет", "виджета", "виджетов", true},
	"imagemap.updated":       {"widgets_updated", "изменил(а)", "виджет", "виджета", "виджетов", true},
	"imagemap.deleted":       {"widgets_deleted", "удалил(а)", "виджет", "виджета", "виджетов", true},
	"comment.created":        {"comments_added", "оставил(а)", "комментарий", "комментария", "комментариев", false},
	"gallery.image.uploaded": {"images_uploaded", "загрузил(а)", "изображение", "изображения", "изображений", false},
}

// BuildSummary groups a claim's events into the ordered groups §4.2.2
// describes, sorted by the policy's group priority.
func BuildSummary(events []RawEvent, policy *Policy) Summary {
	createUpdateGroups := map[string]*Group{}     // groupKind -> group (ordered separately)
	parentGroups := map[string]*Group{}           // groupKind -> group with items_by_parent
	groupOrder := []string{}
	seenGroup := map[string]bool{}

	itemIndex := map[string]map[string]int{} // groupKind -> targetID -> index into Items (for "last write wins")

	for _, ev := range events {
		meta, ok := kindTable[ev.Kind]
		if !ok {
			continue
		}

		if !seenGroup[meta.groupKind] {
			seenGroup[meta.groupKind] = true
			groupOrder = append(groupOrder, meta.groupKind)
		}

		switch meta.groupKind {
		case "comments_added", "images_uploaded":
			g := parentGroups[meta.groupKind]
			if g == nil {
				g = &Group{Kind: meta.groupKind, ItemsByParent: map[string][]Item{}}
				parentGroups[meta.groupKind] = g
			}
			parentType, _ := detailField(ev.Detail, "parent_type")
			parentID, _ := detailField(ev.Detail, "parent_id")
			key := fmt.Sprintf("%s:%s", parentType, parentID)
			g.ItemsByParent[key] = append(g.ItemsByParent[key], Item{
				ID:      ev.TargetID,
				Snippet: commentSnippet(ev.Detail),
			})

		default:
			g := createUpdateGroups[meta.groupKind]
			if g == nil {
				g = &Group{Kind: meta.groupKind}
				createUpdateGroups[meta.groupKind] = g
				itemIndex[meta.groupKind] = map[string]int{}
			}
			name := primaryName(ev.Detail)
			if idx, exists := itemIndex[meta.groupKind][ev.TargetID]; exists {
				g.Items[idx].Name = name // last write wins
			} else {
				itemIndex[meta.groupKind][ev.TargetID] = len(g.Items)
				g.Items = append(g.Items, GroupItem{ID: ev.TargetID, Name: name})
			}
		}
	}

	sort.SliceStable(groupOrder, func(i, j int) bool {
		return policy.GroupPriority(groupOrder[i]) < policy.GroupPriority(groupOrder[j])
	})

	groups := make([]Group, 0, len(groupOrder))
	for _, kind := range groupOrder {
		if g, ok := createUpdateGroups[kind]; ok {
			groups = append(groups, *g)
		} else if g, ok := parentGroups[kind]; ok {
			groups = append(groups, *g)
		}
	}

	return Summary{Groups: groups}
}

// BuildTitle renders the single-locale (Russian) display title for a claim,
// per §4.2.2.
func BuildTitle(events []RawEvent, actorName string) string {
	if len(events) == 1 {
		return singleEventTitle(actorName, events[0])
	}

	kindCount := map[string]int{}
	kindOrder := []string{}
	for _, ev := range events {
		if _, ok := kindTable[ev.Kind]; !ok {
			continue
		}
		if _, seen := kindCount[ev.Kind]; !seen {
			kindOrder = append(kindOrder, ev.Kind)
		}
		kindCount[ev.Kind]++
	}

	if len(kindOrder) == 0 {
		return actorName
	}

	if len(kindOrder) == 1 {
		kind := kindOrder[0]
		return fmt.Sprintf("%s %s", actorName, countedPhrase(kind, kindCount[kind]))
	}

	sort.SliceStable(kindOrder, func(i, j int) bool {
		return kindTable[kindOrder[i]].groupKind < kindTable[kindOrder[j]].groupKind
	})
	sort.SliceStable(kindOrder, func(i, j int) bool {
		return titlePriority(kindOrder[i]) < titlePriority(kindOrder[j])
	})

	top := kindOrder
	extra := 0
	if len(top) > 2 {
		extra = len(top) - 2
		top = top[:2]
	}

	phrases := make([]string, 0, 2)
	for _, kind := range top {
		phrases = append(phrases, countedPhrase(kind, kindCount[kind]))
	}

	title := fmt.Sprintf("%s %s", actorName, phrases[0])
	if len(phrases) > 1 {
		title += " и " + phrases[1]
	}
	if extra > 0 {
		title += fmt.Sprintf(" (+%d more actions)", extra)
	}
	return title
}

func singleEventTitle(actorName string, ev RawEvent) string {
	meta, ok := kindTable[ev.Kind]
	if !ok {
		return actorName
	}
	if meta.hasName {
		name := primaryName(ev.Detail)
		return fmt.Sprintf("%s %s %s «%s»", actorName, meta.verb, meta.nounOne, name)
	}
	return fmt.Sprintf("%s %s %s", actorName, meta.verb, meta.nounOne)
}

func countedPhrase(kind string, count int) string {
	meta := kindTable[kind]
	if count == 1 {
		return fmt.Sprintf("%s %s", meta.verb, meta.nounOne)
	}
	noun := Plural(count, meta.nounOne, meta.nounFew, meta.nounMany)
	return fmt.Sprintf("%s %d %s", meta.verb, count, noun)
}

// titlePriority ranks kinds for mixed-title composition: creations > updates
// > comments > images, per §4.2.2.
func titlePriority(kind string) int {
	switch kindTable[kind].groupKind {
	case "elements_created", "folders_created", "announcements_created", "widgets_created":
		return 0
	case "elements_updated", "folders_updated", "widgets_updated", "widgets_deleted":
		return 1
	case "comments_added":
		return 2
	case "images_uploaded":
		return 3
	default:
		return 4
	}
}
