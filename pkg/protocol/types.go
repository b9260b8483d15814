package protocol

// Client-originated message types.
const (
	TypeLogin          = "login"
	TypeRegister       = "register"
	TypeText           = "text"
	TypeGroup          = "group"
	TypeHeartbeat      = "heartbeat"
	TypeGetOnlineUsers = "getOnlineUsers"
	TypeLogout         = "logout"
	TypeFindPwd        = "findPwd"
	TypePing           = "ping"
	TypeFile           = "file"
	TypeShake          = "shake"
	TypeScreenshot     = "screenshot"
)

// Server-originated message types.
const (
	TypeLoginResult    = "loginResult"
	TypeRegisterResult = "registerResult"
	TypeFindPwdResult  = "findPwdResult"
	TypeOnlineList     = "onlineList"
	TypeFriendList     = "friendList"
	TypeLogoutResult   = "logoutResult"
	TypeAck            = "ack"
	TypeError          = "error"
	TypeSystem         = "system"
	TypePong           = "pong"
	TypeOnline         = "online"
	TypeOffline        = "offline"
	TypeKick           = "kick"
)
