package editor

import (
	"context"
	"sync"
	"time"

	"cvforge/internal/cv"
)

// SaveStatus 表示自动保存的当前状态。
type SaveStatus string

const (
	StatusIdle   SaveStatus = "idle"
	StatusSaving SaveStatus = "saving"
	StatusSaved  SaveStatus = "saved"
	StatusError  SaveStatus = "error"
)

// SavePayload 是一次自动保存提交的完整文档。
// 不做增量 diff：每次保存都携带全部 data/theme/template/title。
type SavePayload struct {
	CVID     uint
	Title    string
	Template string
	Theme    cv.Theme
	Data     cv.Data
}

// SaveFunc 把整份文档推送到保存端点。
type SaveFunc func(ctx context.Context, payload SavePayload) error

// DefaultDebounce 是变更后触发自动保存的去抖间隔。
const DefaultDebounce = 800 * time.Millisecond

// Store 持有正在编辑的简历文档，内存中的副本即权威版本。
// 每个字段组通过显式的变换方法修改；任何修改都会在去抖间隔后
// 触发一次全量保存。保存请求互不排队，后返回者的状态覆盖先返回者。
type Store struct {
	mu sync.Mutex

	cvID         uint
	title        string
	template     string
	theme        cv.Theme
	data         cv.Data
	sectionOrder []string
	hidden       map[string]struct{}

	status   SaveStatus
	onStatus func(SaveStatus)

	save     SaveFunc
	debounce time.Duration
	timer    *time.Timer
	inflight sync.WaitGroup
}

// NewStore 构造编辑器状态存储。
func NewStore(save SaveFunc, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		status:   StatusIdle,
		save:     save,
		debounce: debounce,
		hidden:   map[string]struct{}{},
	}
}

// OnStatusChange 注册状态回调，用于 UI 显示保存进度。
func (s *Store) OnStatusChange(fn func(SaveStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// Load 用服务端文档重置存储，不触发保存。
func (s *Store) Load(cvID uint, title, template string, theme cv.Theme, data cv.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cvID = cvID
	s.title = title
	s.template = template
	s.theme = theme
	s.data = data

	s.sectionOrder = theme.SectionOrder
	if len(s.sectionOrder) == 0 {
		s.sectionOrder = append([]string(nil), cv.DefaultSectionOrder...)
	}
	s.hidden = map[string]struct{}{}
	for _, key := range theme.HiddenSections {
		s.hidden[key] = struct{}{}
	}

	s.stopTimerLocked()
	s.setStatusLocked(StatusIdle)
}

// SetTitle 修改标题。
func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.markDirtyLocked()
}

// SetTemplate 切换渲染模板。
func (s *Store) SetTemplate(template string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.template = template
	s.markDirtyLocked()
}

// SetTheme 整体替换样式，同时同步区块顺序与可见性。
func (s *Store) SetTheme(theme cv.Theme) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(theme.SectionOrder) == 0 {
		theme.SectionOrder = s.sectionOrder
	}
	s.sectionOrder = theme.SectionOrder
	s.hidden = map[string]struct{}{}
	for _, key := range theme.HiddenSections {
		s.hidden[key] = struct{}{}
	}
	s.theme = theme
	s.markDirtyLocked()
}

// UpdateData 在锁内对文档应用一次变换。
// 各字段组（header、experience 等）的编辑都经由这里。
func (s *Store) UpdateData(apply func(*cv.Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.data)
	s.markDirtyLocked()
}

// ReorderSections 更新区块排列顺序并回写到 theme。
func (s *Store) ReorderSections(order []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectionOrder = append([]string(nil), order...)
	s.theme.SectionOrder = s.sectionOrder
	s.markDirtyLocked()
}

// ToggleSection 切换单个区块的可见性并回写到 theme。
func (s *Store) ToggleSection(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hidden[key]; ok {
		delete(s.hidden, key)
	} else {
		s.hidden[key] = struct{}{}
	}
	hiddenList := make([]string, 0, len(s.hidden))
	for _, candidate := range s.sectionOrder {
		if _, ok := s.hidden[candidate]; ok {
			hiddenList = append(hiddenList, candidate)
		}
	}
	s.theme.HiddenSections = hiddenList
	s.markDirtyLocked()
}

// SectionOrder 返回当前区块顺序的副本。
func (s *Store) SectionOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sectionOrder...)
}

// SectionHidden 报告某区块是否被隐藏。
func (s *Store) SectionHidden(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hidden[key]
	return ok
}

// Status 返回自动保存状态。
func (s *Store) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot 返回当前文档的完整保存载荷。
func (s *Store) Snapshot() SavePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadLocked()
}

// Flush 立刻同步执行一次保存，绕过去抖定时器。
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	payload := s.payloadLocked()
	s.setStatusLocked(StatusSaving)
	s.mu.Unlock()

	err := s.save(ctx, payload)

	s.mu.Lock()
	if err != nil {
		s.setStatusLocked(StatusError)
	} else {
		s.setStatusLocked(StatusSaved)
	}
	s.mu.Unlock()
	return err
}

// Wait 阻塞直到所有已排定的自动保存完成（含尚未到期的去抖定时器），测试与退出路径用。
func (s *Store) Wait() {
	s.inflight.Wait()
}

// stopTimerLocked 取消未到期的去抖定时器。
// 定时器成功停止说明对应的保存不会再发生，由这里补上 Done。
func (s *Store) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	if s.timer.Stop() {
		s.inflight.Done()
	}
	s.timer = nil
}

func (s *Store) payloadLocked() SavePayload {
	return SavePayload{
		CVID:     s.cvID,
		Title:    s.title,
		Template: s.template,
		Theme:    s.theme,
		Data:     s.data,
	}
}

// markDirtyLocked 重置去抖定时器；到期后以当时的文档状态发起全量保存。
// 若保存在途时又有变更，新请求照常发出，两个请求独立进行。
// inflight 在排定定时器时即登记，Wait 因此能等到尚未到期的保存。
func (s *Store) markDirtyLocked() {
	s.stopTimerLocked()

	s.inflight.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.inflight.Done()

		s.mu.Lock()
		payload := s.payloadLocked()
		s.setStatusLocked(StatusSaving)
		s.mu.Unlock()

		err := s.save(context.Background(), payload)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.setStatusLocked(StatusError)
			return
		}
		if s.status == StatusSaving {
			s.setStatusLocked(StatusSaved)
		}
	})
}

func (s *Store) setStatusLocked(status SaveStatus) {
	if s.status == status {
		return
	}
	s.status = status
	if s.onStatus != nil {
		go s.onStatus(status)
	}
}
