package irc

// IRC replies.
const (
	rplWelcome  = "001" // :Welcome message
	rplIsupport = "005" // 1*13<TOKEN[=value]> :are supported by this server

	rplUmodeis = "221" // <modes>

	rplChannelmodeis = "324" // <channel> <modes> <mode params>
	rplNotopic       = "331" // <channel> :No topic set
	rplTopic         = "332" // <channel> <topic>
	rplTopicwhotime  = "333" // <channel> <nick> <setat>
	rplNamreply      = "353" // <=/*/@> <channel> :1*(@/ /+user)
	rplEndofnames    = "366" // <channel> :End of names list
	rplMotd          = "372" // :- <text>
	rplMotdstart     = "375" // :- <servername> Message of the day -
	rplEndofmotd     = "376" // :End of MOTD command

	errNomotd           = "422" // :MOTD file missing
	errNonicknamegiven  = "431" // :No nickname given
	errErroneusnickname = "432" // <nick> :Erroneous nickname
	errNicknameinuse    = "433" // <nick> :Nickname in use
	errNickcollision    = "436" // <nick> :Nickname collision KILL from <user>@<host>

	rplLoggedin    = "900" // <nick> <nick>!<ident>@<host> <account> :You are now logged in as <user>
	rplLoggedout   = "901" // <nick> <nick>!<ident>@<host> :You are now logged out
	errNicklocked  = "902" // :You must use a nick assigned to you
	rplSaslsuccess = "903" // :SASL authentication successful
	errSaslfail    = "904" // :SASL authentication failed
	errSasltoolong = "905" // :SASL message too long
	errSaslaborted = "906" // :SASL authentication aborted
	errSaslalready = "907" // :You have already authenticated using SASL
	rplSaslmechs   = "908" // <mechanisms> :are available SASL mechanisms
)
