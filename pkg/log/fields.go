package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldSession 返回一个包含会话 ID 的 zap 字段。
func FieldSession(id uint64) zap.Field {
	return zap.Uint64("sessionID", id)
}

// FieldUser 返回一个包含用户名的 zap 字段。
func FieldUser(username string) zap.Field {
	return zap.String("user", username)
}

// FieldGroup 返回一个包含群组名的 zap 字段。
func FieldGroup(name string) zap.Field {
	return zap.String("group", name)
}

// FieldRemoteAddr 返回一个包含远端地址的 zap 字段。
func FieldRemoteAddr(addr string) zap.Field {
	return zap.String("remoteAddr", addr)
}
