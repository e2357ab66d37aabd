package engine

// Разрешения, которые проверяет шлюз. Роль admin проходит везде.
const (
	PermLease           = "resources.lease"
	PermResourcesRead   = "resources.read"
	PermResourcesReport = "resources.report"
	PermSignatures      = "signatures.compute"
	PermValidate        = "validations.run"
	PermValidationsRead = "validations.read"
	PermBroadcast       = "hub.broadcast"
)

// grpcPermissions — какое разрешение нужно для каждого gRPC-метода.
var grpcPermissions = map[string]string{
	"/" + gatewayServiceName + "/AssignResource":  PermLease,
	"/" + gatewayServiceName + "/ReleaseResource": PermLease,
	"/" + gatewayServiceName + "/Validate":        PermValidate,
}
