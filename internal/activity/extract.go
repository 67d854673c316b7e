package activity

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// affectedSets collects the deduplicated, order-preserving folder and
// element IDs implicated by a claim, per the extraction rules in §4.2.1.
// Malformed or unparsable IDs are logged and skipped; they never abort
// aggregation.
func affectedSets(events []RawEvent, log *logrus.Logger) (folders, elements []string) {
	folderSeen := map[string]bool{}
	elementSeen := map[string]bool{}

	addFolder := func(id string) {
		if id != "" && !folderSeen[id] {
			folderSeen[id] = true
			folders = append(folders, id)
		}
	}
	addElement := func(id string) {
		if id != "" && !elementSeen[id] {
			elementSeen[id] = true
			elements = append(elements, id)
		}
	}

	for _, ev := range events {
		prefix, _, _ := strings.Cut(ev.Kind, ".")

		switch {
		case prefix == "folder":
			addFolder(ev.TargetID)

		case prefix == "element":
			if fid, ok := detailField(ev.Detail, "folder_id"); ok {
				addFolder(fid)
			}
			if ev.Kind == "element.moved" {
				if old, ok := detailField(ev.Detail, "old_folder_id"); ok {
					addFolder(old)
				}
			}
			addElement(ev.TargetID)

		case ev.Kind == "comment.created" || ev.Kind == "gallery.image.uploaded":
			parentType, _ := detailField(ev.Detail, "parent_type")
			parentID, hasParent := detailField(ev.Detail, "parent_id")
			if !hasParent {
				log.WithField("kind", ev.Kind).Warn("activity: missing parent_id in detail, skipping")
				continue
			}
			switch parentType {
			case "folder":
				addFolder(parentID)
			case "element":
				addElement(parentID)
			default:
				log.WithField("parent_type", parentType).Warn("activity: unrecognized parent_type, skipping")
			}

		case prefix == "imagemap":
			entityType, _ := detailField(ev.Detail, "entity_type")
			entityID, hasEntity := detailField(ev.Detail, "entity_id")
			if !hasEntity {
				log.WithField("kind", ev.Kind).Warn("activity: missing entity_id in detail, skipping")
				continue
			}
			switch entityType {
			case "folder":
				addFolder(entityID)
			case "element":
				addElement(entityID)
			default:
				log.WithField("entity_type", entityType).Warn("activity: unrecognized entity_type, skipping")
			}
		}
	}

	return folders, elements
}
