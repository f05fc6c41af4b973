//go:build darwin || windows || linux

package clip

import (
	"fmt"

	"golang.design/x/clipboard"

	"go.klb.dev/clipxfer/internal/medium"
)

func readSystem() []medium.Item {
	var items []medium.Item
	if text := clipboard.Read(clipboard.FmtText); text != nil {
		items = append(items, medium.Item{Name: NativeText, Data: text})
	}
	if img := clipboard.Read(clipboard.FmtImage); img != nil {
		items = append(items, medium.Item{Name: NativeImage, Data: img})
	}
	return items
}

func writeSystem(items []medium.Item) error {
	for _, it := range items {
		switch it.Name {
		case NativeText:
			clipboard.Write(clipboard.FmtText, it.Data)
			return nil
		case NativeImage:
			clipboard.Write(clipboard.FmtImage, it.Data)
			return nil
		}
	}
	if len(items) == 0 {
		return nil
	}
	return fmt.Errorf("unsupported native format: %s", items[0].Name)
}
