package models

// SetupRequest представляет структуру запроса настройки подключения
type SetupRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// PathRequest представляет запрос над одним удалённым путём
type PathRequest struct {
	Path string `json:"path"`
}

// ExistsRequest представляет запрос проверки наличия файла в каталоге
type ExistsRequest struct {
	Directory string `json:"directory"`
	Name      string `json:"name"`
}

// MoveRequest представляет запрос переименования
type MoveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// TransferRequest представляет запрос загрузки или скачивания
type TransferRequest struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

// TokenRequest представляет запрос отмены передачи
type TokenRequest struct {
	Token string `json:"token"`
}

// Entry представляет запись каталога
type Entry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Response представляет структуру успешного ответа
type Response struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Entries []Entry `json:"entries,omitempty"`
	Exists  *bool   `json:"exists,omitempty"`
	Size    *int64  `json:"size,omitempty"`
	Token   string  `json:"token,omitempty"`
}

// ProgressResponse представляет состояние передачи
type ProgressResponse struct {
	Success    bool   `json:"success"`
	Token      string `json:"token"`
	Percentage int    `json:"percentage"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse представляет структуру ошибки
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}
