// Пакет lifecycle — конечный автомат статусов артефакта.
//
// Жизненный цикл: uploaded → downloaded → deleted.
//   - downloaded → downloaded — повторное скачивание (обновляет downloaded_at)
//   - uploaded → deleted — только при включённой политике истечения
//     нескачанных артефактов (Policy.ExpireUndownloadedAfter > 0)
//   - deleted — конечный статус, переходы из него запрещены
//
// Автомат не хранит состояние: статус живёт в ArtifactRecord,
// здесь — только матрица переходов и правило допустимости очистки.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/archive-service/internal/domain/model"
)

// CodeInvalidTransition — машиночитаемый код недопустимого перехода.
const CodeInvalidTransition = "INVALID_TRANSITION"

// Policy — параметры политики хранения артефактов.
type Policy struct {
	// RetentionDelay — минимальное время после последнего скачивания,
	// по истечении которого артефакт может быть очищен
	RetentionDelay time.Duration
	// ExpireUndownloadedAfter — срок жизни нескачанного артефакта.
	// 0 — нескачанные артефакты не истекают никогда.
	ExpireUndownloadedAfter time.Duration
}

// ExpiresUndownloaded сообщает, включена ли очистка нескачанных артефактов.
func (p Policy) ExpiresUndownloaded() bool {
	return p.ExpireUndownloadedAfter > 0
}

// validTransitions — матрица допустимых переходов.
// Переход uploaded → deleted проверяется отдельно (зависит от политики).
var validTransitions = map[model.ArtifactStatus]map[model.ArtifactStatus]bool{
	model.StatusUploaded:   {model.StatusDownloaded: true},
	model.StatusDownloaded: {model.StatusDownloaded: true, model.StatusDeleted: true},
	model.StatusDeleted:    {},
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code string
	From model.ArtifactStatus
	To   model.ArtifactStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: переход %s → %s недопустим", e.Code, e.From, e.To)
}

// CanTransition проверяет, допустим ли переход from → to при данной политике.
func CanTransition(from, to model.ArtifactStatus, policy Policy) bool {
	if from == model.StatusUploaded && to == model.StatusDeleted {
		return policy.ExpiresUndownloaded()
	}
	return validTransitions[from][to]
}

// Validate возвращает *TransitionError, если переход недопустим.
func Validate(from, to model.ArtifactStatus, policy Policy) error {
	if !CanTransition(from, to, policy) {
		return &TransitionError{Code: CodeInvalidTransition, From: from, To: to}
	}
	return nil
}

// ReclaimDue проверяет, наступил ли срок очистки артефакта на момент now.
//
//   - downloaded: now - downloaded_at >= RetentionDelay
//   - uploaded: now - uploaded_at >= ExpireUndownloadedAfter (если политика включена)
//   - deleted: никогда
func ReclaimDue(rec *model.ArtifactRecord, now time.Time, policy Policy) bool {
	switch rec.Status {
	case model.StatusDownloaded:
		if rec.DownloadedAt == nil {
			return false
		}
		return now.Sub(*rec.DownloadedAt) >= policy.RetentionDelay
	case model.StatusUploaded:
		if !policy.ExpiresUndownloaded() {
			return false
		}
		return now.Sub(rec.UploadedAt) >= policy.ExpireUndownloadedAfter
	default:
		return false
	}
}

// ReclaimCutoff возвращает границу olderThan для запроса кандидатов
// в хранилище записей: запрос «строго меньше» с этой границей отбирает
// записи, у которых now - ts >= delay (точность хранения — микросекунда).
func ReclaimCutoff(now time.Time, delay time.Duration) time.Time {
	return now.Add(-delay).Add(time.Microsecond)
}
