package session

import (
	"errors"
	"net"
	"strconv"

	"ftp_bridge/internal/ftperr"
)

// Credentials хранит параметры подключения к FTP-серверу
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr возвращает адрес сервера в виде host:port
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate проверяет, что учётные данные заданы
func (c Credentials) Validate() error {
	if c.Host == "" {
		return ftperr.E(ftperr.ErrConfiguration, "validate", "", errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ftperr.E(ftperr.ErrConfiguration, "validate", "", errors.New("invalid port number"))
	}
	if c.Username == "" {
		return ftperr.E(ftperr.ErrConfiguration, "validate", "", errors.New("username is required"))
	}
	if c.Password == "" {
		return ftperr.E(ftperr.ErrConfiguration, "validate", "", errors.New("password is required"))
	}
	return nil
}
