package domain

import "errors"

var (
	// ErrDuplicateTarget возвращается, если цель с таким external_id уже существует.
	ErrDuplicateTarget = errors.New("target already exists")

	// ErrTargetNotFound возвращается, если цель с указанным external_id не найдена.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNoOpenConnection возвращается, если у цели нет неподтверждённого запроса на контакт.
	ErrNoOpenConnection = errors.New("no open connection for target")

	// ErrInvalidTransition возвращается, если переход статуса не разрешён воронкой.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrMessageNotFound возвращается, если у цели нет отправленных сообщений.
	ErrMessageNotFound = errors.New("message not found")

	// ErrPostNotFound возвращается, если черновик не найден.
	ErrPostNotFound = errors.New("post not found")

	// ErrPostPublished возвращается при попытке изменить опубликованный пост.
	ErrPostPublished = errors.New("post already published")
)
