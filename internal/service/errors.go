// errors.go — ошибки бизнес-логики сервисного слоя.
// Вызывающий код классифицирует ошибки через errors.Is.
package service

import "errors"

var (
	// ErrUnsupportedType — расширение файла не поддерживается для распаковки.
	ErrUnsupportedType = errors.New("неподдерживаемый тип файла")
	// ErrArchiveFailed — ошибка сжатия или распаковки.
	ErrArchiveFailed = errors.New("ошибка архивации")
	// ErrNotFound — артефакт с таким идентификатором не найден.
	ErrNotFound = errors.New("артефакт не найден")
	// ErrFileNotFound — запись существует, backing-файл отсутствует.
	ErrFileNotFound = errors.New("файл артефакта отсутствует")
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrIOFailure — ошибка файловой системы.
	ErrIOFailure = errors.New("ошибка ввода-вывода")
	// ErrFileTooLarge — загрузка превышает допустимый размер.
	ErrFileTooLarge = errors.New("превышен допустимый размер загрузки")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrReclaimInProgress — цикл очистки уже выполняется.
	ErrReclaimInProgress = errors.New("очистка уже выполняется")
	// ErrReclaimNotDue — срок очистки артефакта ещё не наступил.
	ErrReclaimNotDue = errors.New("срок очистки не наступил")
)
