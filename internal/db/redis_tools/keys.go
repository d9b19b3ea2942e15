package redis_tools

const (
	KeyAppSessionTimeoutIndex = "appsession:idx:timeout"
	KeyPushChannel            = "presence:push"
	KeyPresenceEvents         = "presence:characters"
)

func KeyAppSession(key string) string {
	return "appsession:" + key
}

func KeyAppSessionCharacterIndex(characterID string) string {
	return "appsession:idx:character:" + characterID
}

// AppKeys builds keys scoped to one application instance.
type AppKeys struct {
	prefix string
}

func NewAppKeys(app string) AppKeys {
	return AppKeys{prefix: "app:" + app + ":"}
}

func (k AppKeys) Session(sessionID string) string {
	return k.prefix + "session:" + sessionID
}

func (k AppKeys) SessionLog(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":log"
}

func (k AppKeys) CharactersOnline() string {
	return k.prefix + "characters:online"
}

func (k AppKeys) CharacterPlayer(characterID string) string {
	return k.prefix + "character:" + characterID + ":player"
}

func (k AppKeys) PlayerCharacters(playerID string) string {
	return k.prefix + "player:" + playerID + ":characters"
}

func (k AppKeys) Lock(name string) string {
	return k.prefix + "lock:" + name
}
