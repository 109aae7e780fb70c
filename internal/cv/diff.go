package cv

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Diff 描述简历当前状态与某一版本快照之间的逐字段差异。
// 仅做深度相等比较，供 UI 展示；不提供合并或补丁语义。
type Diff struct {
	TemplateChanged bool     `json:"templateChanged"`
	ThemeChanged    bool     `json:"themeChanged"`
	ChangedSections []string `json:"changedSections"`
}

// DiffVersion 比较简历当前字段与指定版本的快照。
func (s *Service) DiffVersion(ctx context.Context, cvID, versionID, ownerID uint) (*Diff, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}

	version, _, err := s.getOwnedVersion(ctx, versionID, ownerID)
	if err != nil {
		return nil, err
	}
	if version.CVID != record.ID {
		return nil, ErrNotFound
	}

	var snapshot Snapshot
	if err := json.Unmarshal(version.Snapshot, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	diff := &Diff{
		TemplateChanged: record.Template != snapshot.Template,
		ChangedSections: []string{},
	}

	var liveTheme map[string]any
	if err := json.Unmarshal(record.Theme, &liveTheme); err != nil {
		return nil, fmt.Errorf("decode live theme: %w", err)
	}
	snapTheme, err := toJSONMap(snapshot.Theme)
	if err != nil {
		return nil, err
	}
	diff.ThemeChanged = !reflect.DeepEqual(liveTheme, snapTheme)

	var liveData map[string]any
	if err := json.Unmarshal(record.Data, &liveData); err != nil {
		return nil, fmt.Errorf("decode live data: %w", err)
	}
	snapData, err := toJSONMap(snapshot.Data)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(liveData)+len(snapData))
	for k := range liveData {
		keys[k] = struct{}{}
	}
	for k := range snapData {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if !reflect.DeepEqual(liveData[k], snapData[k]) {
			diff.ChangedSections = append(diff.ChangedSections, k)
		}
	}
	sort.Strings(diff.ChangedSections)

	return diff, nil
}

// toJSONMap 通过一轮编解码把结构体归一化为 JSON 值，保证与数据库侧的比较基准一致。
func toJSONMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for diff: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal for diff: %w", err)
	}
	return m, nil
}
